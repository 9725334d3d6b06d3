package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lestrrat-go/supervisor/internal/config"
	"github.com/pkg/errors"
)

// durationOpt remembers whether it was given, so that zero can be told
// apart from "not specified". A bare number is taken as seconds.
type durationOpt struct {
	Valid bool
	Value time.Duration
}

func (o *durationOpt) UnmarshalFlag(s string) error {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		o.Valid = true
		o.Value = time.Duration(n * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "failed to parse duration '%s'", s)
	}
	o.Valid = true
	o.Value = d
	return nil
}

func (o durationOpt) MarshalFlag() (string, error) {
	return o.Value.String(), nil
}

type options struct {
	Args       []string    `no-flag:"true"`
	Command    string      `no-flag:"true"`
	API        string      `long:"api" arg:"host:port" description:"serve the HTTP control API and event stream at this address"`
	Config     string      `long:"config" arg:"filename" description:"YAML configuration file. Command line options override its values"`
	Dir        string      `long:"dir" arg:"path" description:"working directory of the program (optional)"`
	Env        []string    `long:"env" arg:"KEY=VALUE" description:"extra environment variable for the program. May be repeated"`
	Envdir     string      `long:"envdir" arg:"Envdir" description:"directory that contains environment variables for the program.\nIt is intended for use with \"envdir\" in \"daemontools\"."`
	Force      bool        `long:"force" description:"scheduled starts launch the program even while it is still running"`
	Interval   durationOpt `long:"interval" arg:"duration" description:"start the program every duration (e.g. 30s, 5m). Bare numbers are seconds"`
	LogFormat  string      `long:"log-format" arg:"json|text" description:"log output format (default: text)"`
	LogLevel   string      `long:"log-level" arg:"level" description:"debug, info, warn or error (default: info)"`
	PidFile    string      `long:"pid-file" arg:"filename" description:"if set, writes the process id of the supervise process to the file"`
	Restart    bool        `long:"restart" description:"this is a wrapper command that reads the pid of the supervise process\nfrom --pid-file, sends SIGHUP to the process and waits until the\nprogram of the older generation dies by monitoring the contents of\nthe --status-file"`
	Silent     bool        `long:"silent" description:"discard the program's stdout and stderr"`
	StatusFile string      `long:"status-file" arg:"filename" description:"if set, writes the generation and pid of the running program(s) to the file"`
	StopSignal string      `long:"stop-signal" arg:"Signal" description:"name of the signal sent to the program to stop it (default: HUP)"`
	Timeout    durationOpt `long:"timeout" arg:"duration" description:"start the program once after the duration instead of immediately"`
	Help       bool        `long:"help" description:"prints this help"`
	Version    bool        `long:"version" description:"prints the version number"`
}

func (o *options) Parse(args ...string) error {
	p := flags.NewParser(o, flags.PassDoubleDash)
	rest, err := p.ParseArgs(args)
	if err != nil {
		return err
	}
	o.Args = rest
	return nil
}

// apply overrides cfg with every option that was given.
func (o *options) apply(cfg *config.Config) {
	sc := &cfg.Supervisor
	if o.Command != "" {
		sc.Path = o.Command
		sc.Arguments = o.Args
	}
	if o.Timeout.Valid {
		sc.Timeout = o.Timeout.Value
	}
	if o.Interval.Valid {
		sc.Interval = o.Interval.Value
	}
	if o.Force {
		sc.Force = true
	}
	if o.Dir != "" {
		sc.Spawn.Dir = o.Dir
	}
	if len(o.Env) > 0 {
		sc.Spawn.Env = append(sc.Spawn.Env, o.Env...)
	}
	if o.Envdir != "" {
		sc.Spawn.Envdir = o.Envdir
	}
	if o.Silent {
		sc.Spawn.Silent = true
	}
	if o.StopSignal != "" {
		sc.Spawn.StopSignal = o.StopSignal
	}
	if o.PidFile != "" {
		cfg.PidFile = o.PidFile
	}
	if o.StatusFile != "" {
		cfg.StatusFile = o.StatusFile
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if o.API != "" {
		cfg.API.Enabled = true
		host, port := splitHostPort(o.API)
		if host != "" {
			cfg.API.Host = host
		}
		if port >= 0 {
			cfg.API.Port = port
		}
	}
}

// splitHostPort accepts "host:port", ":port" and "port". A missing or
// unparsable port is returned as -1.
func splitHostPort(s string) (string, int) {
	host, portStr := "", s
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host, portStr = s[:i], s[i+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, -1
	}
	return host, port
}
