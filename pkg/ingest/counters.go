package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/drgolem/pcmjitter/pkg/types"
)

// Counters tracks what a transport received and what the sink made of it.
// A Counters may be shared by several transports feeding one sink.
type Counters struct {
	received     atomic.Int64 // payloads read from the wire
	accepted     atomic.Int64 // chunks accepted by the sink
	rejected     atomic.Int64 // chunks refused by the sink
	malformed    atomic.Int64 // payloads that could not be decoded
	dropped      atomic.Int64 // packets discarded before decoding (late, duplicate, busy)
	lastAccepted atomic.Int64 // unix nanoseconds
}

// CounterSnapshot is a copy of Counters at one point in time.
type CounterSnapshot struct {
	Received     int64
	Accepted     int64
	Rejected     int64
	Malformed    int64
	Dropped      int64
	LastAccepted time.Time
}

func (c *Counters) Snapshot() CounterSnapshot {
	s := CounterSnapshot{
		Received:  c.received.Load(),
		Accepted:  c.accepted.Load(),
		Rejected:  c.rejected.Load(),
		Malformed: c.malformed.Load(),
		Dropped:   c.dropped.Load(),
	}
	if ns := c.lastAccepted.Load(); ns != 0 {
		s.LastAccepted = time.Unix(0, ns)
	}
	return s
}

// submit hands one decoded chunk to the sink and records the outcome.
func (c *Counters) submit(sink types.ChunkSink, data []byte) error {
	if err := sink.SubmitChunk(data); err != nil {
		c.rejected.Add(1)
		return err
	}
	c.accepted.Add(1)
	c.lastAccepted.Store(time.Now().UnixNano())
	return nil
}

// ErrBusy is returned when a second producer tries to connect while one is
// already streaming. A session accepts a single producer.
var ErrBusy = errors.New("ingest: a producer is already connected")

// producerSlot admits one producer at a time.
type producerSlot struct {
	active atomic.Bool
}

func (p *producerSlot) acquire() bool {
	return p.active.CompareAndSwap(false, true)
}

func (p *producerSlot) release() {
	p.active.Store(false)
}
