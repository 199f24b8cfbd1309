package chunkqueue

import (
	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

// Queue is a bounded FIFO of PCM chunks that evicts the oldest chunk when a
// push would exceed capacity.
//
// Thread safety:
//   - Queue is not synchronized. The owner (normally jitterbuffer.Session)
//     must guard every call with the same lock that guards its play cursor.
//
// Storage is a fixed ring of chunk slots sized at construction, so Push and
// PopFront never allocate.
type Queue struct {
	slots []pcmchunk.Chunk
	head  int // index of the oldest chunk
	count int
}

// New creates a queue that holds at most capacity chunks.
// A non-positive capacity is treated as 1.
//
// Example:
//
//	q := chunkqueue.New(500) // about ten seconds of 20ms chunks
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		slots: make([]pcmchunk.Chunk, capacity),
	}
}

// Push appends a chunk at the tail. If the queue is full the oldest chunk is
// discarded first and Push reports true.
//
// Returns:
//   - bool: true if a chunk was evicted to make room
func (q *Queue) Push(c pcmchunk.Chunk) bool {
	evicted := false
	if q.count == len(q.slots) {
		q.slots[q.head] = pcmchunk.Chunk{}
		q.head = (q.head + 1) % len(q.slots)
		q.count--
		evicted = true
	}

	tail := (q.head + q.count) % len(q.slots)
	q.slots[tail] = c
	q.count++

	return evicted
}

// Front returns the oldest chunk without removing it.
// The second result is false when the queue is empty.
func (q *Queue) Front() (pcmchunk.Chunk, bool) {
	if q.count == 0 {
		return pcmchunk.Chunk{}, false
	}
	return q.slots[q.head], true
}

// PopFront removes and returns the oldest chunk.
// The second result is false when the queue is empty.
func (q *Queue) PopFront() (pcmchunk.Chunk, bool) {
	if q.count == 0 {
		return pcmchunk.Chunk{}, false
	}

	c := q.slots[q.head]
	// Release the sample slice for the collector.
	q.slots[q.head] = pcmchunk.Chunk{}
	q.head = (q.head + 1) % len(q.slots)
	q.count--

	return c, true
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the maximum number of chunks the queue holds.
func (q *Queue) Cap() int {
	return len(q.slots)
}

// Empty reports whether the queue holds no chunks.
func (q *Queue) Empty() bool {
	return q.count == 0
}

// Reset discards every queued chunk.
func (q *Queue) Reset() {
	clear(q.slots)
	q.head = 0
	q.count = 0
}
