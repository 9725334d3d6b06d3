// Package cli implements the supervise command.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/lestrrat-go/supervisor"
	"github.com/lestrrat-go/supervisor/internal/api"
	"github.com/lestrrat-go/supervisor/internal/config"
	"github.com/lestrrat-go/supervisor/internal/logging"
	"github.com/lestrrat-go/supervisor/internal/mqtt"
	"github.com/pkg/errors"
)

type CLI struct {
	stdout io.Writer
	stderr io.Writer
}

func New() *CLI {
	return &CLI{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func (cli *CLI) ParseArgs(args ...string) (*options, error) {
	var opts options
	if err := opts.Parse(args...); err != nil {
		return nil, errors.Wrap(err, "failed to parse arguments")
	}

	if len(opts.Args) > 0 {
		opts.Command = opts.Args[0]
		if len(opts.Args) > 1 {
			opts.Args = opts.Args[1:]
		} else {
			opts.Args = []string(nil)
		}
	}
	return &opts, nil
}

// Run executes the command line in args, which excludes the program name.
func (cli *CLI) Run(ctx context.Context, args ...string) error {
	opts, err := cli.ParseArgs(args...)
	if err != nil {
		return err
	}

	if opts.Help {
		cli.showHelp()
		return nil
	}

	if opts.Version {
		fmt.Fprintf(cli.stdout, "%s\n", supervisor.Version)
		return nil
	}

	if opts.Restart {
		if opts.PidFile == "" || opts.StatusFile == "" {
			return errors.New("--restart option requires --pid-file and --status-file to be set as well")
		}
		return NewRestarter(opts.PidFile, opts.StatusFile).Run(ctx)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, supervisor.Version)
	return newDaemon(cfg, logger).run(ctx)
}

type daemon struct {
	cfg    *config.Config
	logger *logging.Logger
}

func newDaemon(cfg *config.Config, logger *logging.Logger) *daemon {
	return &daemon{cfg: cfg, logger: logger}
}

func (d *daemon) run(ctx context.Context) error {
	cfg := d.cfg
	sc := cfg.Supervisor

	if cfg.PidFile != "" {
		release, err := writePidFile(cfg.PidFile)
		if err != nil {
			return err
		}
		defer release()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sup := supervisor.New(ctx, supervisor.Config{
		Path:      sc.Path,
		Arguments: sc.Arguments,
		Options:   sc.Spawn,
		Timeout:   sc.Timeout,
		Interval:  sc.Interval,
		Force:     sc.Force,
	},
		supervisor.WithLogger(d.logger.With("component", "supervisor")),
		supervisor.WithGracePeriod(sc.GracePeriod),
	)

	sup.On(supervisor.EventMessage, func(ev supervisor.Event) {
		d.logger.Info("message from child", "pid", ev.Pid, "message", ev.Message.String())
	})

	if cfg.StatusFile != "" {
		sf := newStatusFile(cfg.StatusFile)
		defer sf.remove()
		sup.OnAny(func(ev supervisor.Event) {
			if err := sf.update(ev); err != nil {
				d.logger.Warn("failed to update status file", "error", err)
			}
		})
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(cfg.MQTT, d.logger.With("component", "mqtt"))
		if err != nil {
			cancel()
			<-sup.Done()
			return err
		}
		defer pub.Close()
		sup.OnAny(pub.Publish)
	}

	if cfg.API.Enabled {
		srv := api.New(cfg.API, api.FromSupervisor(sup), d.logger.With("component", "api"))
		if err := srv.Start(ctx); err != nil {
			cancel()
			<-sup.Done()
			return err
		}
		defer srv.Close()
		sup.OnAny(srv.Hub().Broadcast)
	}

	// Without a timer or the API nothing could start the program again,
	// so the daemon follows the program out.
	standalone := sc.Interval == 0 && sc.Timeout == 0 && !cfg.API.Enabled
	if standalone {
		sup.On(supervisor.EventExit, func(supervisor.Event) {
			if st := sup.Status(); !st.Running && !st.RestartPending && st.Timer == "none" {
				d.logger.Info("program is gone and nothing will start it again, exiting")
				cancel()
			}
		})
	}

	var startErr error
	if sc.Timeout == 0 && sc.Interval == 0 && sc.StartOnLaunch {
		if err := sup.Start(false); err != nil {
			startErr = errors.Wrap(err, "failed to start program")
			cancel()
		}
	}

	d.handleSignals(ctx, cancel, sup)
	<-sup.Done()
	d.logger.Info("exiting")
	return startErr
}

// handleSignals maps HUP to a restart and TERM/INT to shutdown. It
// returns once ctx is done.
func (d *daemon) handleSignals(ctx context.Context, cancel func(), sup *supervisor.Supervisor) {
	sigCh := make(chan os.Signal, 32)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				d.logger.Info("received HUP, restarting program")
				if err := sup.Restart(); err != nil {
					d.logger.Error("restart failed", "error", err)
				}
			default:
				d.logger.Info("received signal, shutting down", "signal", sig.String())
				cancel()
				return
			}
		}
	}
}

func (cli *CLI) showHelp() {
	// go-flags' help output does not allow for the layout below
	io.WriteString(cli.stderr, `
Usage:
      supervise [options] -- program arg1 arg2 ...

      # run a job every five minutes, never two at once
      supervise --interval=5m -- /usr/local/bin/sync-job

      # keep a server under control, restartable with HUP or over HTTP
      supervise --api=127.0.0.1:8765 --pid-file=/run/app.pid -- ./app

Options:
`)

	t := reflect.TypeOf(options{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag
		s := tag.Get("long")
		if s == "" {
			continue
		}
		fmt.Fprintf(cli.stderr, "  --%s", s)
		if a := tag.Get("arg"); a != "" {
			fmt.Fprintf(cli.stderr, "=%s", a)
		}
		fmt.Fprintf(cli.stderr, ":\n")
		for _, l := range strings.Split(tag.Get("description"), "\n") {
			fmt.Fprintf(cli.stderr, "    %s\n", l)
		}
		fmt.Fprintf(cli.stderr, "\n")
	}
}
