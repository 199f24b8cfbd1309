package jitterbuffer

import (
	"errors"

	"github.com/drgolem/pcmjitter/pkg/pcmchunk"
)

var (
	// ErrInvalidFormat is returned by Create for an unusable sample rate or channel count.
	ErrInvalidFormat = errors.New("jitterbuffer: invalid stream format")

	// ErrNotConfigured is returned when the session has no format yet.
	ErrNotConfigured = errors.New("jitterbuffer: session not created")

	// ErrNotPlaying is returned by SubmitChunk before Start or after Stop.
	ErrNotPlaying = errors.New("jitterbuffer: session not started")

	// ErrInvalidChunkLength is returned by SubmitChunk when the payload does
	// not hold a whole number of frames.
	ErrInvalidChunkLength = pcmchunk.ErrInvalidLength

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("jitterbuffer: invalid config")
)
