package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/supervisor"
	"github.com/lestrrat-go/supervisor/internal/config"
	"github.com/lestrrat-go/supervisor/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type call struct {
	name  string
	d     time.Duration
	force bool
	msg   string
}

type stubController struct {
	mu       sync.Mutex
	calls    []call
	running  bool
	startErr error
	sendErr  error
}

func (c *stubController) record(cl call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cl)
}

func (c *stubController) Calls() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func (c *stubController) Status() supervisor.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return supervisor.Stats{Path: "/bin/worker", Running: c.running, Pid: 4242, Timer: "none"}
}

func (c *stubController) Start(force bool) error {
	c.record(call{name: "start", force: force})
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *stubController) Stop()          { c.record(call{name: "stop"}) }
func (c *stubController) Restart() error { c.record(call{name: "restart"}); return nil }
func (c *stubController) ClearTimeout()  { c.record(call{name: "clearTimeout"}) }
func (c *stubController) ClearInterval() { c.record(call{name: "clearInterval"}) }

func (c *stubController) SetTimeout(d time.Duration, force bool) {
	c.record(call{name: "setTimeout", d: d, force: force})
}

func (c *stubController) SetInterval(d time.Duration, force bool) {
	c.record(call{name: "setInterval", d: d, force: force})
}

func (c *stubController) Send(v interface{}) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	b, _ := v.(interface{ String() string })
	c.record(call{name: "send", msg: b.String()})
	return nil
}

func testServer(t *testing.T) (*Server, *stubController) {
	t.Helper()
	ctl := &stubController{}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	return New(config.APIConfig{Host: "127.0.0.1", Port: 0}, ctl, log), ctl
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/bin/worker", gjson.Get(rec.Body.String(), "path").String())
	assert.False(t, gjson.Get(rec.Body.String(), "running").Bool())
}

func TestStart(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		srv, ctl := testServer(t)
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/start", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gjson.Get(rec.Body.String(), "running").Bool())
		assert.Equal(t, []call{{name: "start"}}, ctl.Calls())
	})
	t.Run("forced", func(t *testing.T) {
		srv, ctl := testServer(t)
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/start?force=true", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []call{{name: "start", force: true}}, ctl.Calls())
	})
	t.Run("bad force", func(t *testing.T) {
		srv, ctl := testServer(t)
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/start?force=maybe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ctl.Calls())
	})
	t.Run("already running", func(t *testing.T) {
		srv, ctl := testServer(t)
		ctl.startErr = supervisor.ErrAlreadyRunning
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/start", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, ErrCodeConflict, gjson.Get(rec.Body.String(), "code").String())
	})
	t.Run("closed", func(t *testing.T) {
		srv, ctl := testServer(t)
		ctl.startErr = supervisor.ErrClosed
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/start", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStopRestart(t *testing.T) {
	srv, ctl := testServer(t)
	h := srv.Handler()
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/stop", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/restart", "").Code)
	assert.Equal(t, []call{{name: "stop"}, {name: "restart"}}, ctl.Calls())
}

func TestTimers(t *testing.T) {
	srv, ctl := testServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/timeout", `{"delay":"1.5s","force":true}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/timeout", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/interval", `{"delay":250}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/interval", "").Code)

	assert.Equal(t, []call{
		{name: "setTimeout", d: 1500 * time.Millisecond, force: true},
		{name: "clearTimeout"},
		{name: "setInterval", d: 250 * time.Millisecond},
		{name: "clearInterval"},
	}, ctl.Calls())

	for _, body := range []string{``, `{}`, `{"delay":"soon"}`, `{"delay":true}`, `{"delay":"-1s"}`, `not json`} {
		rec := do(t, h, http.MethodPost, "/api/v1/interval", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.Len(t, ctl.Calls(), 4)
}

func TestMessage(t *testing.T) {
	t.Run("forwarded", func(t *testing.T) {
		srv, ctl := testServer(t)
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/message", `{"cmd":"reload"}`)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []call{{name: "send", msg: `{"cmd":"reload"}`}}, ctl.Calls())
	})
	t.Run("invalid", func(t *testing.T) {
		srv, _ := testServer(t)
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/message", `{"cmd":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("not running", func(t *testing.T) {
		srv, ctl := testServer(t)
		ctl.sendErr = supervisor.ErrNotRunning
		rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/message", `{}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/api/v1/nope", "").Code)
}

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventStream(t *testing.T) {
	srv, _ := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	all := dialEvents(t, ts, "")
	exitsOnly := dialEvents(t, ts, "?events=exit")
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	srv.Hub().Broadcast(supervisor.Event{Name: supervisor.EventSpawn, Pid: 10, Time: time.Now()})
	srv.Hub().Broadcast(supervisor.Event{Name: supervisor.EventExit, Pid: 10, Time: time.Now(), Exit: &supervisor.ExitStatus{Pid: 10, Code: 3}})

	read := func(conn *websocket.Conn) string {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		return string(data)
	}

	first := read(all)
	assert.Equal(t, "spawn", gjson.Get(first, "name").String())
	assert.Equal(t, int64(10), gjson.Get(first, "pid").Int())
	assert.Equal(t, "exit", gjson.Get(read(all), "name").String())

	only := read(exitsOnly)
	assert.Equal(t, "exit", gjson.Get(only, "name").String())
	assert.Equal(t, int64(3), gjson.Get(only, "exit.code").Int())

	srv.Hub().Close()
	assert.Equal(t, 0, srv.Hub().ClientCount())
}

func TestStartAndClose(t *testing.T) {
	srv, _ := testServer(t)
	require.NoError(t, srv.Start(context.Background()))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, srv.Close())
}
