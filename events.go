package supervisor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

type Listener func(Event)

type ListenerID uint64

// anyEvent is the key OnAny listeners are stored under.
const anyEvent EventName = "*"

type listenerEntry struct {
	id   ListenerID
	fn   Listener
	once bool
}

// eventBus queues events and hands them to listeners, in emission order,
// on a single dispatcher goroutine. emit never blocks on a listener.
type eventBus struct {
	logger    Logger
	mu        sync.Mutex
	cond      *sync.Cond
	nextID    ListenerID
	listeners map[EventName][]listenerEntry
	queue     []Event
	closed    bool
	drained   chan struct{}
}

func newEventBus(logger Logger) *eventBus {
	b := &eventBus{
		logger:    logger,
		listeners: make(map[EventName][]listenerEntry),
		drained:   make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

func (b *eventBus) add(name EventName, fn Listener, once bool) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listenerEntry{id: id, fn: fn, once: once})
	return id
}

func (b *eventBus) remove(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, list := range b.listeners {
		for i, e := range list {
			if e.id != id {
				continue
			}
			b.listeners[name] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (b *eventBus) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, ev)
	b.cond.Signal()
}

// close stops accepting events. Already queued events are still delivered.
func (b *eventBus) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *eventBus) wait() {
	<-b.drained
}

func (b *eventBus) dispatch() {
	defer close(b.drained)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		targets := b.take(ev.Name)
		b.mu.Unlock()

		for _, fn := range targets {
			b.invoke(fn, ev)
		}
	}
}

// take returns the listeners for name, dropping once-listeners from the
// registry. Must be called with mu held.
func (b *eventBus) take(name EventName) []Listener {
	var fns []Listener
	for _, key := range [...]EventName{name, anyEvent} {
		list := b.listeners[key]
		var kept []listenerEntry
		for _, e := range list {
			fns = append(fns, e.fn)
			if !e.once {
				kept = append(kept, e)
			}
		}
		if len(kept) != len(list) {
			b.listeners[key] = kept
		}
	}
	return fns
}

func (b *eventBus) invoke(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", string(ev.Name), "panic", r)
		}
	}()
	fn(ev)
}

// On registers fn for every future event called name.
func (s *Supervisor) On(name EventName, fn Listener) ListenerID {
	return s.bus.add(name, fn, false)
}

// Once registers fn for the next event called name only.
func (s *Supervisor) Once(name EventName, fn Listener) ListenerID {
	return s.bus.add(name, fn, true)
}

// OnAny registers fn for every future event.
func (s *Supervisor) OnAny(fn Listener) ListenerID {
	return s.bus.add(anyEvent, fn, false)
}

// Off unregisters a listener. It reports whether the listener was found.
func (s *Supervisor) Off(id ListenerID) bool {
	return s.bus.remove(id)
}

func (ev Event) MarshalJSON() ([]byte, error) {
	buf := []byte(`{}`)
	var err error
	set := func(path string, v interface{}) {
		if err != nil {
			return
		}
		buf, err = sjson.SetBytes(buf, path, v)
	}

	set("name", string(ev.Name))
	set("time", ev.Time.UTC().Format(time.RFC3339Nano))
	if ev.Pid != 0 {
		set("pid", ev.Pid)
	}
	if ev.RunID != "" {
		set("run_id", ev.RunID)
	}
	if ev.Generation != 0 {
		set("generation", ev.Generation)
	}
	switch v := ev.Value.(type) {
	case nil:
	case time.Duration:
		set("value_ms", v.Milliseconds())
	default:
		set("value", v)
	}
	if st := ev.Exit; st != nil {
		set("exit.code", st.Code)
		if st.Signal != "" {
			set("exit.signal", st.Signal)
		}
		if st.Err != nil {
			set("exit.error", st.Err.Error())
		}
	}
	if ev.Err != nil {
		set("error", ev.Err.Error())
	}
	if len(ev.Message) > 0 && err == nil {
		buf, err = sjson.SetRawBytes(buf, "message", ev.Message)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s event", ev.Name)
	}
	return buf, nil
}
