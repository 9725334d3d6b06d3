package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTimeout(t *testing.T) {
	t.Run("fires once", func(t *testing.T) {
		sp := &fakeSpawner{autoExit: true}
		s, r, shutdown := newTestSupervisor(t, Config{}, sp)

		assert.Same(t, s, s.SetTimeout(10*time.Millisecond, false))
		r.WaitFor(t, EventSpawn, 1)
		assert.Equal(t, "none", s.Status().Timer, "a fired timeout is cleared")

		time.Sleep(50 * time.Millisecond)
		shutdown()
		assert.Equal(t, 1, sp.Spawned())

		names := r.Names()
		require.True(t, len(names) >= 4)
		assert.Equal(t, []EventName{EventSetTimeout, EventRunTimeout, EventStart, EventSpawn}, names[:4])
		assert.Equal(t, 10*time.Millisecond, r.Find(EventSetTimeout)[0].Value)
	})

	t.Run("passes force through", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		require.NoError(t, s.Start(false))
		s.SetTimeout(time.Millisecond, true)
		r.WaitFor(t, EventSpawn, 2)
		assert.Equal(t, sp.Proc(1).Pid(), s.Status().Pid)
	})

	t.Run("without force a running child wins", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		require.NoError(t, s.Start(false))
		s.SetTimeout(time.Millisecond, false)
		errs := r.WaitFor(t, EventError, 1)
		assert.Equal(t, ErrAlreadyRunning, errs[0].Err)
		assert.Equal(t, 1, sp.Spawned())
	})

	t.Run("clamped to a millisecond", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		s.SetTimeout(-time.Second, false)
		r.WaitFor(t, EventSpawn, 1)
		assert.Equal(t, time.Millisecond, r.Find(EventSetTimeout)[0].Value)
	})

	t.Run("cleared before firing", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, shutdown := newTestSupervisor(t, Config{}, sp)

		s.SetTimeout(30*time.Millisecond, false).ClearTimeout()
		assert.Equal(t, "none", s.Status().Timer)
		time.Sleep(60 * time.Millisecond)
		shutdown()

		assert.Equal(t, 0, sp.Spawned())
		assert.Equal(t, []EventName{EventSetTimeout, EventClearTimeout}, r.Names())
	})
}

func TestSetInterval(t *testing.T) {
	t.Run("repeats until cleared", func(t *testing.T) {
		sp := &fakeSpawner{autoExit: true}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		s.SetInterval(5*time.Millisecond, false)
		r.WaitFor(t, EventSpawn, 3)
		assert.Equal(t, "interval", s.Status().Timer)

		s.ClearInterval()
		assert.Equal(t, "none", s.Status().Timer)
		spawned := sp.Spawned()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, spawned, sp.Spawned(), "no start after the interval was cleared")
		r.WaitFor(t, EventClearInterval, 1)
	})

	t.Run("ticks while running report already running", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		s.SetInterval(5*time.Millisecond, false)
		r.WaitFor(t, EventError, 2)
		assert.Equal(t, 1, sp.Spawned())
		assert.True(t, r.Count(EventRunTimeout) >= 3)
	})
}

func TestTimerSlot(t *testing.T) {
	t.Run("last writer wins", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, shutdown := newTestSupervisor(t, Config{}, sp)

		s.SetTimeout(time.Hour, false).SetInterval(time.Hour, false)
		assert.Equal(t, "interval", s.Status().Timer)

		s.ClearTimeout()
		assert.Equal(t, "interval", s.Status().Timer, "clearTimeout leaves an interval alone")

		s.SetTimeout(time.Hour, false)
		s.ClearInterval()
		assert.Equal(t, "timeout", s.Status().Timer, "clearInterval leaves a timeout alone")

		s.ClearTimeout()
		assert.Equal(t, "none", s.Status().Timer)

		shutdown()
		assert.Equal(t, []EventName{
			EventSetTimeout, EventSetInterval, EventClearTimeout,
			EventSetTimeout, EventClearInterval, EventClearTimeout,
		}, r.Names())
	})

	t.Run("a replaced timeout never fires", func(t *testing.T) {
		const every = 60 * time.Millisecond
		sp := &fakeSpawner{autoExit: true}
		s, r, _ := newTestSupervisor(t, Config{}, sp)

		armed := time.Now()
		s.SetTimeout(20*time.Millisecond, false).SetInterval(every, false)

		fires := r.WaitFor(t, EventRunTimeout, 3)
		assert.GreaterOrEqual(t, fires[0].Time.Sub(armed), every, "the first fire is the interval's")
		for i := 1; i < len(fires); i++ {
			// re-arming happens a hair after the fire is taken
			assert.Greater(t, fires[i].Time.Sub(fires[i-1].Time), every-10*time.Millisecond)
		}
		assert.Equal(t, "interval", s.Status().Timer)
	})

	t.Run("stale fires are dropped", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, r, shutdown := newTestSupervisor(t, Config{}, sp)

		s.call(func() {
			s.setTimer(timerOneShot, time.Hour, false)
			stale := s.timer.seq
			s.setTimer(timerRepeating, time.Hour, false)
			s.handleTimer(stale)
			s.cancelTimer()
			s.handleTimer(s.timerSeq)
		})

		shutdown()
		assert.Equal(t, 0, sp.Spawned())
		assert.Zero(t, r.Count(EventRunTimeout))
	})
}

func TestConstructorTimers(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, _, _ := newTestSupervisor(t, Config{Timeout: 10 * time.Millisecond}, sp)
		require.Eventually(t, func() bool { return sp.Spawned() == 1 }, waitTimeout, time.Millisecond)
		assert.Equal(t, "none", s.Status().Timer)
	})

	t.Run("interval wins over timeout", func(t *testing.T) {
		s, _, _ := newTestSupervisor(t, Config{Timeout: time.Hour, Interval: time.Hour}, &fakeSpawner{})
		assert.Equal(t, "interval", s.Status().Timer)
	})

	t.Run("force is passed to scheduled starts", func(t *testing.T) {
		sp := &fakeSpawner{}
		s, _, _ := newTestSupervisor(t, Config{Interval: 5 * time.Millisecond, Force: true}, sp)
		require.Eventually(t, func() bool { return sp.Spawned() >= 2 }, waitTimeout, time.Millisecond)
		assert.True(t, s.Status().Running)
	})
}
