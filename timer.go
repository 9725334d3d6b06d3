package supervisor

import "time"

const minTimerDuration = time.Millisecond

// SetTimeout replaces any pending timer with a one-shot timer that starts
// the child after d.
func (s *Supervisor) SetTimeout(d time.Duration, force bool) *Supervisor {
	s.call(func() { s.setTimer(timerOneShot, d, force) })
	return s
}

// ClearTimeout cancels a pending one-shot timer. A pending interval is
// left alone.
func (s *Supervisor) ClearTimeout() *Supervisor {
	s.call(func() { s.clearTimer(timerOneShot) })
	return s
}

// SetInterval replaces any pending timer with one that starts the child
// every d until it is cleared or replaced.
func (s *Supervisor) SetInterval(d time.Duration, force bool) *Supervisor {
	s.call(func() { s.setTimer(timerRepeating, d, force) })
	return s
}

// ClearInterval cancels a pending interval. A pending one-shot timer is
// left alone.
func (s *Supervisor) ClearInterval() *Supervisor {
	s.call(func() { s.clearTimer(timerRepeating) })
	return s
}

// setTimer is the only place a timer gets armed, so there is never more
// than one.
func (s *Supervisor) setTimer(kind timerKind, d time.Duration, force bool) {
	s.cancelTimer()
	if d < minTimerDuration {
		d = minTimerDuration
	}

	s.timerSeq++
	s.timer = pendingTimer{kind: kind, seq: s.timerSeq, every: d, force: force}
	s.schedule()

	name := EventSetTimeout
	if kind == timerRepeating {
		name = EventSetInterval
	}
	s.emit(Event{Name: name, Value: d})
}

func (s *Supervisor) clearTimer(kind timerKind) {
	if s.timer.kind == kind {
		s.cancelTimer()
	}

	name := EventClearTimeout
	if kind == timerRepeating {
		name = EventClearInterval
	}
	s.emit(Event{Name: name})
}

func (s *Supervisor) schedule() {
	seq := s.timer.seq
	s.timer.timer = time.AfterFunc(s.timer.every, func() {
		select {
		case s.fires <- seq:
		case <-s.closing:
		}
	})
}

func (s *Supervisor) cancelTimer() {
	if s.timer.timer != nil {
		s.timer.timer.Stop()
	}
	s.timer = pendingTimer{}
}

func (s *Supervisor) handleTimer(seq uint64) {
	if s.timer.kind == timerNone || s.timer.seq != seq {
		s.logger.Debug("dropping stale timer fire", "seq", seq)
		return
	}

	force := s.timer.force
	if s.timer.kind == timerOneShot {
		s.timer = pendingTimer{}
	} else {
		s.schedule()
	}

	s.emit(Event{Name: EventRunTimeout})
	if err := s.start(force); err != nil {
		s.logger.Debug("scheduled start did not spawn", "error", err)
	}
}
