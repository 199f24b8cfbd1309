package jitterbuffer

// Render fills out with frames*channels interleaved samples. It is the
// output driver callback and always fully populates the requested range:
// silence while stopped, paused or Filling, and for any shortfall when the
// queue runs dry.
//
// If out is shorter than frames*channels, frames is reduced to fit.
// Samples of out beyond the rendered range are cleared.
func (s *Session) Render(out []int16, frames, channels int) {
	if channels <= 0 || frames <= 0 {
		clear(out)
		return
	}
	frames = min(frames, len(out)/channels)
	buf := out[:frames*channels]
	clear(out[len(buf):])

	if !s.started.Load() || s.paused.Load() {
		clear(buf)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop may have run between the check above and the lock.
	if !s.started.Load() {
		clear(buf)
		return
	}

	callback := s.totalCallbacks.Add(1)

	if s.prebuffer.Filling() {
		clear(buf)
		s.evaluatePrebufferLocked(callback)
		return
	}

	s.drainLocked(buf, frames, channels, callback)

	if !s.prebuffer.Filling() {
		s.drift.Add(frames)
		if callback%int64(s.cfg.DriftReportEvery) == 0 {
			s.reportDriftLocked(callback)
		}
	}
}

func (s *Session) evaluatePrebufferLocked(callback int64) {
	queued := s.queue.Len()
	est := s.estimator.EstimateMs()

	transition, fillingCallbacks := s.prebuffer.Evaluate(queued, est)

	ev := Event{
		Callback:         callback,
		QueuedChunks:     queued,
		BufferedMs:       queued * est,
		TargetMs:         s.prebuffer.TargetMs(),
		Underruns:        s.underruns.Count(),
		FillingCallbacks: fillingCallbacks,
	}

	switch transition {
	case TransitionReady:
		s.drift.Begin(s.now())
		ev.Kind = EventPrebufferComplete
		s.emit(ev)
	case TransitionStalled:
		s.drift.Begin(s.now())
		s.stalls.Add(1)
		ev.Kind = EventProducerStalled
		s.emit(ev)
	default:
		if callback%int64(s.cfg.FillingReportEvery) == 0 {
			ev.Kind = EventPrebufferProgress
			s.emit(ev)
		}
	}
}

func (s *Session) drainLocked(buf []int16, frames, channels int, callback int64) {
	gain := s.volume.Get()
	written := 0

	for written < frames {
		if s.cursor.Exhausted() {
			c, ok := s.queue.PopFront()
			if !ok {
				clear(buf[written*channels:])
				s.underrunLocked(callback)
				return
			}
			s.cursor.Load(c)
			s.queued.Store(int32(s.queue.Len()))
			s.chunksConsumed.Add(1)
			continue
		}

		n, ok := s.cursor.CopyTo(buf[written*channels:], frames-written, channels, gain)
		if !ok {
			s.corruptChunks.Add(1)
			s.emit(Event{
				Kind:         EventCorruptChunk,
				Callback:     callback,
				QueuedChunks: s.queue.Len(),
				Underruns:    s.underruns.Count(),
				ChunkFrames:  s.cursor.chunk.Frames,
				ChunkSamples: len(s.cursor.chunk.Samples),
				CursorFrame:  s.cursor.Index(),
			})
			s.cursor.Discard()
			continue
		}
		written += n
	}
}

func (s *Session) underrunLocked(callback int64) {
	queued := s.queue.Len()
	buffered := queued * s.estimator.EstimateMs()

	action := s.underruns.OnUnderrun(queued, buffered)
	if action == UnderrunCounted {
		return
	}

	if action.Rebuffer() {
		s.prebuffer.Rebuffer()
		s.rebuffers.Add(1)
	}

	kind := EventUnderrun
	if action.Rebuffer() {
		kind = EventRebuffer
	}
	s.emit(Event{
		Kind:         kind,
		Callback:     callback,
		QueuedChunks: queued,
		BufferedMs:   buffered,
		TargetMs:     s.prebuffer.TargetMs(),
		Underruns:    s.underruns.Count(),
		Action:       action,
	})
}

func (s *Session) reportDriftLocked(callback int64) {
	report, ok := s.drift.Measure(s.now(), int(s.sampleRate.Load()))
	if !ok {
		return
	}
	queued := s.queue.Len()
	s.emit(Event{
		Kind:         EventDrift,
		Callback:     callback,
		QueuedChunks: queued,
		BufferedMs:   queued * s.estimator.EstimateMs(),
		Underruns:    s.underruns.Count(),
		IntervalMs:   s.interval.SmoothedMs(),
		Drift:        report,
	})
}
