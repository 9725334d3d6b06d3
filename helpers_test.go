package supervisor

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type fakeProcess struct {
	pid int
	// signals the process dies from besides KILL; nil means any signal
	fatal map[os.Signal]bool

	mu      sync.Mutex
	signals []os.Signal
	sent    []interface{}

	once   sync.Once
	done   chan struct{}
	status ExitStatus
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	if p.fatal == nil || p.fatal[sig] || sig == os.Kill {
		p.exit(ExitStatus{Pid: p.pid, Code: -1, Signal: signame(sig)})
	}
	return nil
}

func (p *fakeProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

func (p *fakeProcess) Send(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, v)
	return nil
}

func (p *fakeProcess) exit(st ExitStatus) {
	p.once.Do(func() {
		p.status = st
		close(p.done)
	})
}

func (p *fakeProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

type fakeSpawner struct {
	mu       sync.Mutex
	nextPid  int
	commands []Command
	procs    []*fakeProcess
	fail     error
	fatal    map[os.Signal]bool
	autoExit bool
}

func (s *fakeSpawner) Spawn(c Command) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, c)
	if s.fail != nil {
		return nil, s.fail
	}

	s.nextPid++
	p := &fakeProcess{pid: 1000 + s.nextPid, fatal: s.fatal, done: make(chan struct{})}
	s.procs = append(s.procs, p)
	if s.autoExit {
		go p.exit(ExitStatus{Pid: p.pid})
	}
	return p, nil
}

func (s *fakeSpawner) Spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) Proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) Command(i int) Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[i]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *Supervisor) *recorder {
	r := &recorder{}
	s.OnAny(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Names() []EventName {
	var names []EventName
	for _, ev := range r.Events() {
		names = append(names, ev.Name)
	}
	return names
}

func (r *recorder) Count(name EventName) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) Find(name EventName) []Event {
	var list []Event
	for _, ev := range r.Events() {
		if ev.Name == name {
			list = append(list, ev)
		}
	}
	return list
}

// WaitFor blocks until at least n events called name have been delivered.
func (r *recorder) WaitFor(t *testing.T, name EventName, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return r.Count(name) >= n }, waitTimeout, time.Millisecond,
		"waiting for %d %s events, got %v", n, name, r.Names())
	return r.Find(name)
}

// newTestSupervisor returns a supervisor backed by sp and a function that
// shuts it down and waits until every event has been delivered.
func newTestSupervisor(t *testing.T, cfg Config, sp *fakeSpawner, options ...Option) (*Supervisor, *recorder, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Path == "" {
		cfg.Path = "/bin/fake"
	}
	s := New(ctx, cfg, append([]Option{WithSpawner(sp), WithGracePeriod(50 * time.Millisecond)}, options...)...)
	r := record(s)

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			cancel()
			select {
			case <-s.Done():
			case <-time.After(waitTimeout):
				t.Fatal("supervisor did not shut down")
			}
		})
	}
	t.Cleanup(shutdown)
	return s, r, shutdown
}

var errSpawn = errors.New("exec format error")
