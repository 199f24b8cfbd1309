package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/drgolem/pcmjitter/pkg/types"
)

// Static RTP payload types understood by the receiver (RFC 3551).
// Dynamic payload types (96-127) are treated as L16.
const (
	PayloadTypePCMU      uint8 = 0
	PayloadTypePCMA      uint8 = 8
	PayloadTypeL16Stereo uint8 = 10
	PayloadTypeL16Mono   uint8 = 11
)

const maxDatagram = 65536

// ErrUnsupportedPayload is returned for RTP payload types the receiver cannot decode.
var ErrUnsupportedPayload = errors.New("ingest: unsupported RTP payload type")

// ErrLatePacket is returned for packets older than or equal to the last one
// accepted from the current stream.
var ErrLatePacket = errors.New("ingest: late or duplicate RTP packet")

// RTPReceiver reads RTP packets from a UDP socket and submits each payload,
// converted to s16le, as one chunk. The jitter buffer does not reorder, so
// packets arriving behind the newest accepted sequence number are dropped.
type RTPReceiver struct {
	addr     string
	sink     types.ChunkSink
	counters *Counters

	mu      sync.Mutex
	conn    *net.UDPConn
	ssrc    uint32
	lastSeq uint16
	haveSeq bool
}

// NewRTPReceiver creates a receiver that will listen on addr. counters may be nil.
func NewRTPReceiver(addr string, sink types.ChunkSink, counters *Counters) *RTPReceiver {
	if counters == nil {
		counters = &Counters{}
	}
	return &RTPReceiver{addr: addr, sink: sink, counters: counters}
}

// Counters returns the receiver's counters.
func (r *RTPReceiver) Counters() *Counters {
	return r.counters
}

// Listen binds the UDP socket.
func (r *RTPReceiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", r.addr)
	if err != nil {
		return fmt.Errorf("rtp resolve %s: %w", r.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("rtp listen %s: %w", r.addr, err)
	}
	r.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *RTPReceiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reads packets until ctx is cancelled.
func (r *RTPReceiver) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	slog.Info("RTP ingest listening", "addr", conn.LocalAddr().String())

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rtp read: %w", err)
		}

		if err := r.Accept(buf[:n]); err != nil {
			slog.Debug("RTP packet not submitted", "error", err)
		}
	}
}

// Accept decodes one RTP packet and submits its payload.
func (r *RTPReceiver) Accept(packet []byte) error {
	r.counters.received.Add(1)

	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		r.counters.malformed.Add(1)
		return fmt.Errorf("rtp unmarshal: %w", err)
	}

	if !r.inOrder(pkt.SSRC, pkt.SequenceNumber) {
		r.counters.dropped.Add(1)
		return fmt.Errorf("%w: seq %d", ErrLatePacket, pkt.SequenceNumber)
	}

	pcm, err := decodeRTPPayload(pkt.PayloadType, pkt.Payload)
	if err != nil {
		r.counters.malformed.Add(1)
		return err
	}
	if len(pcm) == 0 {
		return nil
	}

	return r.counters.submit(r.sink, pcm)
}

// inOrder reports whether seq is newer than the last accepted packet,
// using serial number arithmetic so the 16-bit counter can wrap.
// A new SSRC restarts tracking.
func (r *RTPReceiver) inOrder(ssrc uint32, seq uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveSeq || ssrc != r.ssrc {
		r.ssrc = ssrc
		r.lastSeq = seq
		r.haveSeq = true
		return true
	}
	if int16(seq-r.lastSeq) <= 0 {
		return false
	}
	r.lastSeq = seq
	return true
}

func decodeRTPPayload(payloadType uint8, payload []byte) ([]byte, error) {
	switch {
	case payloadType == PayloadTypePCMU:
		return g711.DecodeUlaw(payload), nil
	case payloadType == PayloadTypePCMA:
		return g711.DecodeAlaw(payload), nil
	case payloadType == PayloadTypeL16Mono, payloadType == PayloadTypeL16Stereo, payloadType >= 96:
		return l16ToLittleEndian(payload), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayload, payloadType)
	}
}

// l16ToLittleEndian converts network byte order L16 samples to s16le.
// A trailing odd byte is dropped.
func l16ToLittleEndian(payload []byte) []byte {
	out := make([]byte, len(payload)&^1)
	for i := 0; i+1 < len(payload); i += 2 {
		out[i] = payload[i+1]
		out[i+1] = payload[i]
	}
	return out
}
