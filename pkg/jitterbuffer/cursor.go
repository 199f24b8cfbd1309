package jitterbuffer

import "github.com/drgolem/pcmjitter/pkg/pcmchunk"

// Cursor tracks the chunk currently being drained and the next frame to copy.
// A zero Cursor is exhausted.
type Cursor struct {
	chunk pcmchunk.Chunk
	index int
}

// Load makes c the current chunk and rewinds to its first frame.
func (cur *Cursor) Load(c pcmchunk.Chunk) {
	cur.chunk = c
	cur.index = 0
}

// Exhausted reports whether every frame of the current chunk has been copied.
func (cur *Cursor) Exhausted() bool {
	return cur.index >= cur.chunk.Frames
}

// Index returns the next frame to copy.
func (cur *Cursor) Index() int {
	return cur.index
}

// Remaining returns the number of frames left in the current chunk.
func (cur *Cursor) Remaining() int {
	return max(cur.chunk.Frames-cur.index, 0)
}

// Discard forces the cursor to the end of the current chunk.
func (cur *Cursor) Discard() {
	cur.index = max(cur.chunk.Frames, 0)
}

// Reset drops the current chunk.
func (cur *Cursor) Reset() {
	cur.chunk = pcmchunk.Chunk{}
	cur.index = 0
}

// CopyTo copies up to maxFrames frames into dst, scaled by gain, and advances
// the cursor by the number of frames copied.
//
// When the copy range would leave the bounds of the chunk's samples or of dst,
// nothing is written, the cursor is left unchanged and ok is false.
func (cur *Cursor) CopyTo(dst []int16, maxFrames, channels int, gain float32) (frames int, ok bool) {
	n := min(maxFrames, cur.Remaining())
	samples := n * channels
	src := cur.index * channels

	if src < 0 || samples <= 0 || src+samples > len(cur.chunk.Samples) || samples > len(dst) {
		return 0, false
	}

	applyGain(dst, cur.chunk.Samples[src:src+samples], gain)
	cur.index += n
	return n, true
}
