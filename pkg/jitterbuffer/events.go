package jitterbuffer

// EventKind identifies a notification posted by the render or submit path.
type EventKind int

const (
	// EventPrebufferComplete: Filling to Playing after reaching the target.
	EventPrebufferComplete EventKind = iota
	// EventPrebufferProgress: periodic progress while Filling.
	EventPrebufferProgress
	// EventProducerStalled: Filling to Playing forced with an empty queue.
	EventProducerStalled
	// EventRebuffer: Playing to Filling forced by the underrun policy.
	EventRebuffer
	// EventUnderrun: periodic summary of underruns that did not rebuffer.
	EventUnderrun
	// EventCorruptChunk: a chunk failed the copy bounds check and was discarded.
	EventCorruptChunk
	// EventChunkEvicted: the queue was full and its oldest chunk was dropped.
	EventChunkEvicted
	// EventDrift: periodic output rate measurement.
	EventDrift
)

func (k EventKind) String() string {
	switch k {
	case EventPrebufferComplete:
		return "prebuffer_complete"
	case EventPrebufferProgress:
		return "prebuffer_progress"
	case EventProducerStalled:
		return "producer_stalled"
	case EventRebuffer:
		return "rebuffer"
	case EventUnderrun:
		return "underrun"
	case EventCorruptChunk:
		return "corrupt_chunk"
	case EventChunkEvicted:
		return "chunk_evicted"
	case EventDrift:
		return "drift"
	default:
		return "unknown"
	}
}

// Event is a value snapshot of session state at the moment something
// noteworthy happened. Fields not relevant to Kind are zero.
type Event struct {
	Kind             EventKind
	Callback         int64 // Render call number
	QueuedChunks     int
	BufferedMs       int
	TargetMs         int
	Underruns        int
	FillingCallbacks int64
	Action           UnderrunAction // EventRebuffer, EventUnderrun
	ChunkFrames      int            // EventCorruptChunk
	ChunkSamples     int            // EventCorruptChunk
	CursorFrame      int            // EventCorruptChunk
	IntervalMs       float64        // EventDrift
	Drift            DriftReport    // EventDrift
}

// emit posts ev without blocking. Events that do not fit are counted and dropped.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.droppedEvents.Add(1)
	}
}
