package supervisor

import "time"

const (
	optkeyLogger      = "logger"
	optkeySpawner     = "spawner"
	optkeyGracePeriod = "grace_period"
)

const defaultGracePeriod = 10 * time.Second

type valueOption struct {
	name  string
	value interface{}
}

func (o *valueOption) Name() string {
	return o.name
}

func (o *valueOption) Value() interface{} {
	return o.value
}

// WithLogger sets the logger used for supervisor diagnostics.
func WithLogger(l Logger) Option {
	return &valueOption{name: optkeyLogger, value: l}
}

// WithSpawner replaces the os/exec based spawner.
func WithSpawner(s Spawner) Option {
	return &valueOption{name: optkeySpawner, value: s}
}

// WithGracePeriod sets how long shutdown waits for children to exit
// after the stop signal before killing them.
func WithGracePeriod(d time.Duration) Option {
	return &valueOption{name: optkeyGracePeriod, value: d}
}
