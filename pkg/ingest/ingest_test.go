package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
)

var errFull = errors.New("sink full")

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	reject bool
}

func (s *recordingSink) SubmitChunk(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return errFull
	}
	s.chunks = append(s.chunks, append([]byte(nil), data...))
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

func waitForChunks(t *testing.T, sink *recordingSink, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks, got %d", n, len(sink.snapshot()))
	return nil
}

func TestDecodeText(t *testing.T) {
	raw := []byte{0x01, 0x02, 0xfe, 0xff}
	b64 := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		input string
	}{
		{"base64", b64},
		{"prefixed base64", "AUDIO_DATA:" + b64},
		{"unsigned array", "[1, 2, 254, 255]"},
		{"signed array", "[1, 2, -2, -1]"},
		{"typed event", `{"type":"audio-chunk","data":"` + b64 + `"}`},
		{"numbered chunk", `{"chunk":3,"timestamp":1700000000,"data":[1,2,254,255]}`},
		{"audio field", `{"audio":"` + b64 + `"}`},
		{"buffer field", `{"buffer":[1,2,254,255]}`},
		{"nested object", `{"data":{"buffer":"` + b64 + `"}}`},
		{"wrapped base64", b64[:4] + "\n" + b64[4:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.input)
			if err != nil {
				t.Fatalf("DecodeText: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Errorf("DecodeText: got %v, want %v", got, raw)
			}
		})
	}
}

func TestDecodeTextRejects(t *testing.T) {
	for _, input := range []string{"", "   ", "not base64!", `{"status":"ok"}`, `{"data":true}`, "[1, 2"} {
		if _, err := DecodeText(input); !errors.Is(err, ErrUnknownPayload) {
			t.Errorf("DecodeText(%q): got %v, want ErrUnknownPayload", input, err)
		}
	}
}

func TestFramerSplitsStream(t *testing.T) {
	sink := &recordingSink{}
	counters := &Counters{}
	f, err := NewFramer(sink, 4, 2, counters)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	stream := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for _, piece := range [][]byte{stream[:3], stream[3:6], stream[6:]} {
		if n, err := f.Write(piece); err != nil || n != len(piece) {
			t.Fatalf("Write: got (%d, %v), want (%d, nil)", n, err, len(piece))
		}
	}

	chunks := sink.snapshot()
	if len(chunks) != 2 {
		t.Fatalf("chunks before flush: got %d, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[1], []byte{4, 5, 6, 7}) {
		t.Errorf("chunk 1: got %v", chunks[1])
	}
	if f.Buffered() != 3 {
		t.Errorf("Buffered: got %d, want 3", f.Buffered())
	}

	f.Flush()
	chunks = sink.snapshot()
	if len(chunks) != 3 || !bytes.Equal(chunks[2], []byte{8, 9}) {
		t.Errorf("after flush: got %v, want trailing chunk [8 9]", chunks)
	}

	snap := counters.Snapshot()
	if snap.Accepted != 3 {
		t.Errorf("Accepted: got %d, want 3", snap.Accepted)
	}
	if snap.LastAccepted.IsZero() {
		t.Error("LastAccepted not set")
	}
}

func TestFramerLargeWrite(t *testing.T) {
	sink := &recordingSink{}
	f, err := NewFramer(sink, 8, 4, nil)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}
	data := make([]byte, 8*100)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	chunks := sink.snapshot()
	if len(chunks) != 100 {
		t.Fatalf("chunks: got %d, want 100", len(chunks))
	}
	if !bytes.Equal(chunks[99], data[792:]) {
		t.Errorf("last chunk: got %v, want %v", chunks[99], data[792:])
	}
}

func TestFramerCountsRejections(t *testing.T) {
	sink := &recordingSink{reject: true}
	counters := &Counters{}
	f, _ := NewFramer(sink, 2, 2, counters)
	f.Write([]byte{1, 2, 3, 4})

	if got := counters.Snapshot().Rejected; got != 2 {
		t.Errorf("Rejected: got %d, want 2", got)
	}
	if !errors.Is(f.Err(), errFull) {
		t.Errorf("Err: got %v, want errFull", f.Err())
	}
}

func TestFramerFlushKeepsWholeFrames(t *testing.T) {
	sink := &recordingSink{}
	counters := &Counters{}
	f, err := NewFramer(sink, 8, 4, counters)
	if err != nil {
		t.Fatalf("NewFramer: %v", err)
	}

	// One full chunk, one stereo frame and half of the next frame.
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	f.Write(data)
	f.Flush()

	chunks := sink.snapshot()
	if len(chunks) != 2 {
		t.Fatalf("chunks: got %d, want 2", len(chunks))
	}
	if !bytes.Equal(chunks[1], []byte{8, 9, 10, 11}) {
		t.Errorf("trailing chunk: got %v, want [8 9 10 11]", chunks[1])
	}
	if got := counters.Snapshot().Rejected; got != 0 {
		t.Errorf("Rejected: got %d, want 0", got)
	}
	if f.Buffered() != 0 {
		t.Errorf("Buffered after Flush: got %d, want 0", f.Buffered())
	}
}

func TestNewFramerRejectsBadSizes(t *testing.T) {
	tests := []struct {
		chunkBytes, frameBytes int
	}{
		{3, 2},
		{0, 2},
		{6, 4},
		{8, 0},
		{9, 3},
	}
	for _, tt := range tests {
		if _, err := NewFramer(&recordingSink{}, tt.chunkBytes, tt.frameBytes, nil); err == nil {
			t.Errorf("NewFramer(%d, %d): expected error", tt.chunkBytes, tt.frameBytes)
		}
	}
}

func rtpPacket(t *testing.T, ssrc uint32, seq uint16, pt uint8, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 160,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return buf
}

func TestRTPAcceptL16(t *testing.T) {
	sink := &recordingSink{}
	r := NewRTPReceiver("127.0.0.1:0", sink, nil)

	if err := r.Accept(rtpPacket(t, 1, 10, 96, []byte{0x01, 0x02, 0x03, 0x04})); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	chunks := sink.snapshot()
	if len(chunks) != 1 || !bytes.Equal(chunks[0], []byte{0x02, 0x01, 0x04, 0x03}) {
		t.Errorf("L16 chunk: got %v, want byte-swapped samples", chunks)
	}
}

func TestRTPAcceptG711(t *testing.T) {
	sink := &recordingSink{}
	r := NewRTPReceiver("127.0.0.1:0", sink, nil)

	payload := bytes.Repeat([]byte{0xff}, 160)
	if err := r.Accept(rtpPacket(t, 1, 1, PayloadTypePCMU, payload)); err != nil {
		t.Fatalf("Accept PCMU: %v", err)
	}
	if err := r.Accept(rtpPacket(t, 1, 2, PayloadTypePCMA, payload)); err != nil {
		t.Fatalf("Accept PCMA: %v", err)
	}
	chunks := sink.snapshot()
	if len(chunks) != 2 {
		t.Fatalf("chunks: got %d, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 320 {
			t.Errorf("chunk %d length: got %d, want 320", i, len(c))
		}
	}
}

func TestRTPDropsLatePackets(t *testing.T) {
	sink := &recordingSink{}
	r := NewRTPReceiver("127.0.0.1:0", sink, nil)
	payload := []byte{0, 1}

	seqs := []struct {
		ssrc uint32
		seq  uint16
		ok   bool
	}{
		{1, 65534, true},
		{1, 65535, true},
		{1, 0, true}, // wrap
		{1, 65535, false},
		{1, 0, false},
		{1, 5, true},
		{2, 3, true}, // new stream
	}
	for _, s := range seqs {
		err := r.Accept(rtpPacket(t, s.ssrc, s.seq, 96, payload))
		if s.ok && err != nil {
			t.Errorf("seq %d: unexpected error %v", s.seq, err)
		}
		if !s.ok && !errors.Is(err, ErrLatePacket) {
			t.Errorf("seq %d: got %v, want ErrLatePacket", s.seq, err)
		}
	}

	snap := r.Counters().Snapshot()
	if snap.Dropped != 2 || snap.Accepted != 5 {
		t.Errorf("counters: got dropped=%d accepted=%d, want 2 and 5", snap.Dropped, snap.Accepted)
	}
}

func TestRTPRejectsUnsupported(t *testing.T) {
	r := NewRTPReceiver("127.0.0.1:0", &recordingSink{}, nil)
	if err := r.Accept(rtpPacket(t, 1, 1, 14, []byte{0, 0})); !errors.Is(err, ErrUnsupportedPayload) {
		t.Errorf("MPA payload: got %v, want ErrUnsupportedPayload", err)
	}
	if err := r.Accept([]byte{0x80}); err == nil {
		t.Error("truncated packet: expected error")
	}
	if got := r.Counters().Snapshot().Malformed; got != 2 {
		t.Errorf("Malformed: got %d, want 2", got)
	}
}

func TestRTPServeOverUDP(t *testing.T) {
	sink := &recordingSink{}
	r := NewRTPReceiver("127.0.0.1:0", sink, nil)
	if err := r.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	conn, err := net.Dial("udp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Write(rtpPacket(t, 7, 1, 96, []byte{0, 1, 2, 3}))

	waitForChunks(t, sink, 1)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestTCPServerFramesStream(t *testing.T) {
	sink := &recordingSink{}
	s := NewTCPServer("127.0.0.1:0", 4, 2, sink, nil)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	sender, err := DialTCP(ctx, s.Addr().String())
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	if err := sender.SubmitChunk([]byte{0, 1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	sender.SubmitChunk([]byte{6, 7, 8, 9})
	sender.Close()

	chunks := waitForChunks(t, sink, 3)
	if !bytes.Equal(chunks[2], []byte{8, 9}) {
		t.Errorf("trailing chunk: got %v, want [8 9]", chunks[2])
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWebSocketBinaryAndText(t *testing.T) {
	sink := &recordingSink{}
	s := NewWebSocketServer("", "", sink, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sender, err := DialWebSocket(context.Background(), wsURL(ts, s.Path()))
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer sender.Close()

	if err := sender.SubmitChunk([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	text := `{"type":"audio-chunk","data":"` + base64.StdEncoding.EncodeToString([]byte{5, 6}) + `"}`
	if err := sender.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	sender.conn.WriteMessage(websocket.TextMessage, []byte("{}"))
	sender.SubmitChunk([]byte{7, 8})

	chunks := waitForChunks(t, sink, 3)
	want := [][]byte{{1, 2, 3, 4}, {5, 6}, {7, 8}}
	for i := range want {
		if !bytes.Equal(chunks[i], want[i]) {
			t.Errorf("chunk %d: got %v, want %v", i, chunks[i], want[i])
		}
	}
	if got := s.Counters().Snapshot().Malformed; got != 1 {
		t.Errorf("Malformed: got %d, want 1", got)
	}
}

func TestWebSocketSingleProducer(t *testing.T) {
	sink := &recordingSink{}
	s := NewWebSocketServer("", "/pcm", sink, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	first, err := DialWebSocket(context.Background(), wsURL(ts, "/pcm"))
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}

	if _, err := DialWebSocket(context.Background(), wsURL(ts, "/pcm")); !errors.Is(err, ErrBusy) {
		t.Errorf("second dial: got %v, want ErrBusy", err)
	}

	first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		second, err := DialWebSocket(context.Background(), wsURL(ts, "/pcm"))
		if err == nil {
			second.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial after first producer left: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
