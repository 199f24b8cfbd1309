package jitterbuffer

import "github.com/drgolem/pcmjitter/pkg/pcmchunk"

func chunkWithFrames(samples []int16, frames int) pcmchunk.Chunk {
	return pcmchunk.Chunk{Samples: samples, Frames: frames}
}
