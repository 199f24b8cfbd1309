package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drgolem/pcmjitter/pkg/types"
)

const (
	// DefaultWebSocketPath is where producers connect.
	DefaultWebSocketPath = "/audio"

	maxMessageBytes = 1 << 20
	shutdownTimeout = 2 * time.Second
)

// WebSocketServer accepts one producer at a time over WebSocket. Binary
// messages carry raw s16le chunks; text messages are decoded with DecodeText.
type WebSocketServer struct {
	addr     string
	path     string
	sink     types.ChunkSink
	counters *Counters
	slot     producerSlot
	upgrader websocket.Upgrader

	mu         sync.Mutex
	ln         net.Listener
	httpServer *http.Server
}

// NewWebSocketServer creates a server that will listen on addr and accept
// producers on path. counters may be nil.
func NewWebSocketServer(addr, path string, sink types.ChunkSink, counters *Counters) *WebSocketServer {
	if path == "" {
		path = DefaultWebSocketPath
	}
	if counters == nil {
		counters = &Counters{}
	}
	return &WebSocketServer{
		addr:     addr,
		path:     path,
		sink:     sink,
		counters: counters,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

// Counters returns the server's counters.
func (s *WebSocketServer) Counters() *Counters {
	return s.counters
}

// Path returns the producer endpoint path.
func (s *WebSocketServer) Path() string {
	return s.path
}

// Handler returns the HTTP handler serving the producer endpoint.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleProducer)
	return mux
}

// Listen binds the listening socket.
func (s *WebSocketServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("websocket listen %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *WebSocketServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve handles HTTP requests until ctx is cancelled.
func (s *WebSocketServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.ln
	s.httpServer = &http.Server{Handler: s.Handler()}
	srv := s.httpServer
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("WebSocket ingest listening", "addr", ln.Addr().String(), "path", s.path)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket serve: %w", err)
	}
	return nil
}

func (s *WebSocketServer) handleProducer(w http.ResponseWriter, r *http.Request) {
	if !s.slot.acquire() {
		s.counters.dropped.Add(1)
		http.Error(w, ErrBusy.Error(), http.StatusConflict)
		return
	}
	defer s.slot.release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageBytes)

	remote := conn.RemoteAddr().String()
	slog.Info("Producer connected", "transport", "websocket", "remote", remote)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Producer stream error", "transport", "websocket", "remote", remote, "error", err)
			}
			break
		}
		s.handleMessage(messageType, data)
	}

	slog.Info("Producer disconnected", "transport", "websocket", "remote", remote)
}

func (s *WebSocketServer) handleMessage(messageType int, data []byte) {
	s.counters.received.Add(1)

	switch messageType {
	case websocket.BinaryMessage:
	case websocket.TextMessage:
		decoded, err := DecodeText(string(data))
		if err != nil {
			s.counters.malformed.Add(1)
			slog.Debug("Dropping text message", "error", err)
			return
		}
		data = decoded
	default:
		return
	}

	if err := s.counters.submit(s.sink, data); err != nil {
		slog.Debug("Chunk rejected", "error", err, "bytes", len(data))
	}
}

// WebSocketSender streams chunks to a WebSocketServer as binary messages.
// It implements types.ChunkSink so a source.Feeder can drive it.
type WebSocketSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebSocket connects to a producer endpoint such as ws://host:port/audio.
func DialWebSocket(ctx context.Context, url string) (*WebSocketSender, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("dial %s: %w", url, ErrBusy)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WebSocketSender{conn: conn}, nil
}

// SubmitChunk sends one chunk as a binary message.
func (s *WebSocketSender) SubmitChunk(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close performs the closing handshake and closes the connection.
func (s *WebSocketSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
