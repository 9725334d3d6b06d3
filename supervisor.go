package supervisor

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/supervisor/ipc"
	"github.com/pkg/errors"
)

// New creates a Supervisor and starts its loop. The supervisor lives until
// ctx is cancelled, at which point it stops every child it still watches.
func New(ctx context.Context, cfg Config, options ...Option) *Supervisor {
	s := &Supervisor{
		logger:      nopLogger{},
		gracePeriod: defaultGracePeriod,
		requests:    make(chan func()),
		exits:       make(chan exitNotice),
		fires:       make(chan uint64),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		path:        cfg.Path,
		args:        append([]string(nil), cfg.Arguments...),
		options:     cfg.Options,
		watched:     make(map[*child]struct{}),
	}

	for _, opt := range options {
		switch opt.Name() {
		case optkeyLogger:
			if l, ok := opt.Value().(Logger); ok && l != nil {
				s.logger = l
			}
		case optkeySpawner:
			if sp, ok := opt.Value().(Spawner); ok && sp != nil {
				s.spawner = sp
			}
		case optkeyGracePeriod:
			s.gracePeriod = opt.Value().(time.Duration)
		}
	}
	if s.spawner == nil {
		s.spawner = &execSpawner{logger: s.logger}
	}
	s.bus = newEventBus(s.logger)

	// The loop is not running yet, so the timers can be armed directly.
	// When both are given the interval replaces the timeout.
	if cfg.Timeout > 0 {
		s.setTimer(timerOneShot, cfg.Timeout, cfg.Force)
	}
	if cfg.Interval > 0 {
		s.setTimer(timerRepeating, cfg.Interval, cfg.Force)
	}

	go s.loop(ctx)
	return s
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case fn := <-s.requests:
			fn()
		case n := <-s.exits:
			s.handleExit(n)
		case seq := <-s.fires:
			s.handleTimer(seq)
		}
	}
}

// call runs fn on the loop goroutine and waits for it. It returns false
// if the supervisor has shut down.
func (s *Supervisor) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case s.requests <- func() { defer close(finished); fn() }:
	case <-s.closing:
		return false
	}
	<-finished
	return true
}

func (s *Supervisor) emit(ev Event) {
	s.bus.emit(ev)
}

// Done is closed once the supervisor has shut down and every event has
// been delivered.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) SetPath(path string) *Supervisor {
	s.call(func() {
		s.path = path
		s.emit(Event{Name: EventSetPath, Value: path})
	})
	return s
}

func (s *Supervisor) SetArguments(args []string) *Supervisor {
	args = append([]string(nil), args...)
	s.call(func() {
		s.args = args
		s.emit(Event{Name: EventSetArguments, Value: append([]string(nil), args...)})
	})
	return s
}

func (s *Supervisor) SetOptions(options SpawnOptions) *Supervisor {
	s.call(func() {
		s.options = options
		s.emit(Event{Name: EventSetOptions, Value: options})
	})
	return s
}

// Start launches the child. Unless force is set it refuses, with
// ErrAlreadyRunning, while a child is active. A forced start does not stop
// the running child.
func (s *Supervisor) Start(force bool) error {
	var err error
	if !s.call(func() { err = s.start(force) }) {
		return ErrClosed
	}
	return err
}

// Stop sends the stop signal to the active child, if any. It does not
// wait for the child to exit.
func (s *Supervisor) Stop() *Supervisor {
	s.call(s.stop)
	return s
}

// Restart stops the active child and starts a new one once the old one's
// exit has been reported. Without an active child it is a plain Start.
func (s *Supervisor) Restart() error {
	var err error
	if !s.call(func() { err = s.restart() }) {
		return ErrClosed
	}
	return err
}

// Send writes v to the active child's message channel.
func (s *Supervisor) Send(v interface{}) error {
	var proc Process
	if !s.call(func() {
		if s.child != nil {
			proc = s.child.proc
		}
	}) {
		return ErrClosed
	}
	if proc == nil {
		return ErrNotRunning
	}
	return proc.Send(v)
}

func (s *Supervisor) Status() Stats {
	var st Stats
	s.call(func() {
		st = Stats{
			Path:           s.path,
			Arguments:      append([]string(nil), s.args...),
			Generation:     s.generation,
			Timer:          s.timer.kind.String(),
			RestartPending: s.restartAfter != nil,
		}
		if c := s.child; c != nil {
			st.Running = true
			st.Pid = c.pid
			st.RunID = c.runID
		}
	})
	return st
}

func (s *Supervisor) start(force bool) error {
	s.emit(Event{Name: EventStart})

	if s.child != nil {
		if !force {
			s.emit(Event{Name: EventError, Pid: s.child.pid, Err: ErrAlreadyRunning})
			return ErrAlreadyRunning
		}
		s.logger.Warn("forced start while a child is running", "pid", s.child.pid)
	}

	s.generation++
	c := &child{
		generation: s.generation,
		runID:      uuid.New().String(),
	}

	proc, err := s.spawner.Spawn(Command{
		Path:       s.path,
		Args:       append([]string(nil), s.args...),
		Options:    s.options,
		Generation: c.generation,
		OnMessage: func(pid int, msg ipc.Message) {
			s.emit(Event{Name: EventMessage, Pid: pid, RunID: c.runID, Generation: c.generation, Message: msg})
		},
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to spawn %s", s.path)
		s.logger.Error("spawn failed", "path", s.path, "generation", c.generation, "error", err)
		s.emit(Event{
			Name:       EventExit,
			RunID:      c.runID,
			Generation: c.generation,
			Exit:       &ExitStatus{Code: ExitCodeSpawnFailed, Err: err},
		})
		return err
	}

	c.proc = proc
	c.pid = proc.Pid()
	if s.restartAfter != nil && s.restartAfter == s.child {
		// a forced start already replaced the child a restart was waiting on
		s.restartAfter = nil
	}
	s.child = c
	s.watched[c] = struct{}{}

	s.logger.Info("spawned child", "pid", c.pid, "generation", c.generation, "run_id", c.runID)
	s.emit(Event{Name: EventSpawn, Pid: c.pid, RunID: c.runID, Generation: c.generation})
	go s.watch(c)
	return nil
}

func (s *Supervisor) stop() {
	if s.child == nil {
		s.emit(Event{Name: EventStop})
		return
	}

	c := s.child
	s.emit(Event{Name: EventStop, Pid: c.pid, RunID: c.runID, Generation: c.generation})
	s.signal(c, s.stopSignal())
}

func (s *Supervisor) restart() error {
	s.emit(Event{Name: EventRestart})
	if s.child == nil {
		return s.start(false)
	}
	if s.restartAfter == s.child {
		s.logger.Debug("restart already pending", "pid", s.child.pid)
		return nil
	}
	s.stop()
	s.restartAfter = s.child
	return nil
}

func (s *Supervisor) handleExit(n exitNotice) {
	c := n.child
	delete(s.watched, c)

	st := n.status
	if st.Pid == 0 {
		st.Pid = c.pid
	}
	s.logger.Info("child exited", "pid", st.Pid, "code", st.Code, "signal", st.Signal, "generation", c.generation)
	s.emit(Event{Name: EventExit, Pid: st.Pid, RunID: c.runID, Generation: c.generation, Exit: &st})

	if s.child == c {
		s.child = nil
	}
	if s.restartAfter == c {
		s.restartAfter = nil
		if err := s.start(false); err != nil {
			s.logger.Error("restart failed", "error", err)
		}
	}
}

func (s *Supervisor) stopSignal() os.Signal {
	name := s.options.StopSignal
	if name == "" {
		return syscall.SIGHUP
	}
	if sig := SignalFromName(name); sig != nil {
		return sig
	}
	s.logger.Warn("unknown stop signal, using HUP", "stop_signal", name)
	return syscall.SIGHUP
}

func (s *Supervisor) signal(c *child, sig os.Signal) {
	if err := c.proc.Signal(sig); err != nil {
		s.logger.Warn("failed to signal child", "pid", c.pid, "signal", signame(sig), "error", err)
	}
}

// shutdown signals every watched child, including ones demoted by a
// forced start, and reaps them before the event bus is closed.
func (s *Supervisor) shutdown() {
	s.cancelTimer()
	s.restartAfter = nil

	if len(s.watched) > 0 {
		sig := s.stopSignal()
		s.logger.Info("shutting down", "children", len(s.watched), "signal", signame(sig))
		for c := range s.watched {
			s.signal(c, sig)
		}

		grace := time.NewTimer(s.gracePeriod)
		defer grace.Stop()
		graceC := grace.C
		for len(s.watched) > 0 {
			select {
			case n := <-s.exits:
				s.handleExit(n)
			case <-graceC:
				graceC = nil
				for c := range s.watched {
					s.logger.Warn("child did not exit in time, killing", "pid", c.pid)
					s.signal(c, os.Kill)
				}
			}
		}
	}

	close(s.closing)
	s.bus.close()
	s.bus.wait()
}
