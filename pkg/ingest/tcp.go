package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/drgolem/pcmjitter/pkg/types"
)

// TCPServer accepts a raw s16le byte stream from one producer at a time and
// frames it into fixed-size chunks.
type TCPServer struct {
	addr       string
	chunkBytes int
	frameBytes int
	sink       types.ChunkSink
	counters   *Counters
	slot       producerSlot

	mu sync.Mutex
	ln net.Listener
}

// NewTCPServer creates a server that will listen on addr. counters may be nil.
func NewTCPServer(addr string, chunkBytes, frameBytes int, sink types.ChunkSink, counters *Counters) *TCPServer {
	if counters == nil {
		counters = &Counters{}
	}
	return &TCPServer{
		addr:       addr,
		chunkBytes: chunkBytes,
		frameBytes: frameBytes,
		sink:       sink,
		counters:   counters,
	}
}

// Listen binds the listening socket.
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Counters returns the server's counters.
func (s *TCPServer) Counters() *Counters {
	return s.counters
}

// Serve accepts connections until ctx is cancelled.
func (s *TCPServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("TCP ingest listening", "addr", ln.Addr().String(), "chunk_bytes", s.chunkBytes)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}

		if !s.slot.acquire() {
			slog.Warn("Rejecting second producer", "remote", conn.RemoteAddr().String())
			s.counters.dropped.Add(1)
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.slot.release()
			s.handle(ctx, conn)
		}()
	}
}

func (s *TCPServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	slog.Info("Producer connected", "transport", "tcp", "remote", remote)

	framer, err := NewFramer(s.sink, s.chunkBytes, s.frameBytes, s.counters)
	if err != nil {
		slog.Error("Failed to create framer", "error", err)
		return
	}

	n, err := io.Copy(framer, conn)
	framer.Flush()

	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Producer stream error", "transport", "tcp", "remote", remote, "error", err)
	}
	slog.Info("Producer disconnected", "transport", "tcp", "remote", remote, "bytes", n)
}

// ListenAndServe is Listen followed by Serve.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// TCPSender writes chunks to a TCPServer as a plain byte stream.
// It implements types.ChunkSink.
type TCPSender struct {
	conn net.Conn
}

// DialTCP connects to a TCP receiver at addr (host:port).
func DialTCP(ctx context.Context, addr string) (*TCPSender, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &TCPSender{conn: conn}, nil
}

func (s *TCPSender) SubmitChunk(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

func (s *TCPSender) Close() error {
	return s.conn.Close()
}
