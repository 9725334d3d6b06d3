package supervisor

import (
	"os"
	"time"

	"github.com/lestrrat-go/supervisor/ipc"
	"github.com/pkg/errors"
)

// Version of the supervisor package and the supervise daemon.
const Version = "0.1.0"

// GenerationEnvName is set in the environment of every spawned child to
// the number of children spawned by the supervisor so far.
const GenerationEnvName = "SUPERVISOR_GENERATION"

// ExitCodeSpawnFailed is reported as the exit code of a child that the
// operating system refused to start.
const ExitCodeSpawnFailed = 127

var (
	ErrAlreadyRunning = errors.New("there is already a running child process")
	ErrNotRunning     = errors.New("no child process is running")
	ErrClosed         = errors.New("supervisor has been shut down")
)

type EventName string

const (
	EventSetTimeout    EventName = "setTimeout"
	EventClearTimeout  EventName = "clearTimeout"
	EventSetInterval   EventName = "setInterval"
	EventClearInterval EventName = "clearInterval"
	EventSetPath       EventName = "setPath"
	EventSetArguments  EventName = "setArguments"
	EventSetOptions    EventName = "setOptions"
	EventStart         EventName = "start"
	EventSpawn         EventName = "spawn"
	EventRestart       EventName = "restart"
	EventStop          EventName = "stop"
	EventRunTimeout    EventName = "runTimeout"
	EventExit          EventName = "exit"
	EventError         EventName = "error"
	EventMessage       EventName = "message"
)

// Event is a lifecycle notification. Only the fields relevant to the
// event's Name are populated.
type Event struct {
	Name       EventName
	Time       time.Time
	Pid        int
	RunID      string
	Generation int
	Value      interface{} // setPath, setArguments, setOptions, setTimeout, setInterval
	Exit       *ExitStatus
	Err        error
	Message    ipc.Message
}

// ExitStatus describes how a child terminated. Code is -1 when the child
// was terminated by a signal, in which case Signal holds its short name.
type ExitStatus struct {
	Pid    int
	Code   int
	Signal string
	Err    error
}

// SpawnOptions controls how the child is launched.
type SpawnOptions struct {
	Dir        string   `yaml:"dir" json:"dir,omitempty"`
	Env        []string `yaml:"env" json:"env,omitempty"`
	Envdir     string   `yaml:"envdir" json:"envdir,omitempty"`
	Silent     bool     `yaml:"silent" json:"silent,omitempty"`
	DisableIPC bool     `yaml:"disable_ipc" json:"disable_ipc,omitempty"`
	StopSignal string   `yaml:"stop_signal" json:"stop_signal,omitempty"` // defaults to HUP
}

// Config is the bag a Supervisor is constructed from.
type Config struct {
	Path      string
	Arguments []string
	Options   SpawnOptions
	Timeout   time.Duration
	Interval  time.Duration
	Force     bool // passed to the start issued by Timeout/Interval
}

// Command is what the Supervisor hands to a Spawner.
type Command struct {
	Path       string
	Args       []string
	Options    SpawnOptions
	Generation int
	// OnMessage is called for every message the child sends. It may be
	// called from any goroutine.
	OnMessage func(pid int, msg ipc.Message)
}

// Spawner launches child processes. The default implementation uses os/exec.
type Spawner interface {
	Spawn(Command) (Process, error)
}

// Process is a handle to a spawned child.
type Process interface {
	Pid() int
	Signal(os.Signal) error
	// Wait blocks until the process has exited and every message it sent
	// has been delivered.
	Wait() ExitStatus
	Send(v interface{}) error
}

type Option interface {
	Name() string
	Value() interface{}
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Stats is a point-in-time view of the supervisor.
type Stats struct {
	Path           string   `json:"path"`
	Arguments      []string `json:"arguments"`
	Running        bool     `json:"running"`
	Pid            int      `json:"pid,omitempty"`
	RunID          string   `json:"run_id,omitempty"`
	Generation     int      `json:"generation"`
	Timer          string   `json:"timer"`
	RestartPending bool     `json:"restart_pending"`
}

type timerKind int

const (
	timerNone timerKind = iota
	timerOneShot
	timerRepeating
)

func (k timerKind) String() string {
	switch k {
	case timerOneShot:
		return "timeout"
	case timerRepeating:
		return "interval"
	default:
		return "none"
	}
}

// pendingTimer is the single timer slot. seq identifies the arming so
// that fires racing with a cancel can be recognized and dropped.
type pendingTimer struct {
	kind  timerKind
	seq   uint64
	every time.Duration
	force bool
	timer *time.Timer
}

type child struct {
	proc       Process
	pid        int
	runID      string
	generation int
}

type exitNotice struct {
	child  *child
	status ExitStatus
}

type Supervisor struct {
	logger      Logger
	spawner     Spawner
	gracePeriod time.Duration
	bus         *eventBus

	requests chan func()
	exits    chan exitNotice
	fires    chan uint64
	closing  chan struct{}
	done     chan struct{}

	// owned by the loop goroutine
	path         string
	args         []string
	options      SpawnOptions
	child        *child
	watched      map[*child]struct{}
	timer        pendingTimer
	timerSeq     uint64
	restartAfter *child
	generation   int
}
