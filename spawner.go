package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/lestrrat-go/supervisor/internal/env"
	"github.com/lestrrat-go/supervisor/ipc"
	"github.com/pkg/errors"
)

// drainTimeout bounds how long Wait keeps reading messages after the child
// has exited. A grandchild holding the write end open would otherwise
// block Wait forever.
const drainTimeout = 2 * time.Second

// The child sees the message channel at these descriptors: ExtraFiles
// start at 3.
const (
	childReadFD  = 3
	childWriteFD = 4
)

type execSpawner struct {
	logger Logger
}

type execProcess struct {
	cmd      *exec.Cmd
	logger   Logger
	channel  *ipc.Channel
	drained  chan struct{}
	waitOnce sync.Once
	status   ExitStatus
}

func (sp *execSpawner) Spawn(c Command) (Process, error) {
	if c.Path == "" {
		return nil, errors.New("no executable path configured")
	}

	cmd := exec.Command(c.Path, c.Args...)
	if c.Options.Dir != "" {
		cmd.Dir = c.Options.Dir
	}
	if !c.Options.Silent {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	environ := append(os.Environ(), c.Options.Env...)
	if c.Options.Envdir != "" {
		environ = append(environ, env.EnvdirKey+"="+c.Options.Envdir)
	}
	environ = append(environ, GenerationEnvName+"="+strconv.Itoa(c.Generation))

	p := &execProcess{
		cmd:     cmd,
		logger:  sp.logger,
		drained: make(chan struct{}),
	}

	var childEnds []*os.File
	var envOptions []env.Option
	if ipcSupported && !c.Options.DisableIPC {
		toChildR, toChildW, err := os.Pipe()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create ipc pipe")
		}
		fromChildR, fromChildW, err := os.Pipe()
		if err != nil {
			toChildR.Close()
			toChildW.Close()
			return nil, errors.Wrap(err, "failed to create ipc pipe")
		}
		childEnds = []*os.File{toChildR, fromChildW}
		cmd.ExtraFiles = childEnds
		environ = append(environ, ipc.EnvName+"="+ipc.FormatSpec(childReadFD, childWriteFD))
		p.channel = ipc.NewChannel(fromChildR, toChildW, fromChildR, toChildW)
	} else {
		// do not leak a channel description inherited from our own parent
		envOptions = append(envOptions, env.WithUnset(ipc.EnvName))
		close(p.drained)
	}
	cmd.Env = env.NewLoader(environ...).Environ(envOptions...)

	err := cmd.Start()
	for _, f := range childEnds {
		f.Close()
	}
	if err != nil {
		if p.channel != nil {
			p.channel.Close()
		}
		return nil, errors.Wrapf(err, "failed to start %s", c.Path)
	}

	if p.channel != nil {
		go p.read(c.OnMessage)
	}
	return p, nil
}

// read delivers child messages until the child closes its end.
func (p *execProcess) read(onMessage func(int, ipc.Message)) {
	defer close(p.drained)
	pid := p.Pid()
	for {
		msg, err := p.channel.Receive()
		if err != nil {
			if errors.Is(err, ipc.ErrMalformed) {
				p.logger.Warn("dropping malformed message from child", "pid", pid, "error", err)
				continue
			}
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("message channel closed", "pid", pid, "error", err)
			}
			return
		}
		if onMessage != nil {
			onMessage(pid, msg)
		}
	}
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	return errors.Wrapf(p.cmd.Process.Signal(sig), "failed to send %s to %d", signame(sig), p.Pid())
}

func (p *execProcess) Send(v interface{}) error {
	if p.channel == nil {
		return errors.New("ipc is disabled for this child")
	}
	return p.channel.Send(v)
}

// Wait returns after the process has exited and its pending messages have
// been delivered.
func (p *execProcess) Wait() ExitStatus {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

		if p.channel != nil {
			select {
			case <-p.drained:
			case <-time.After(drainTimeout):
				p.logger.Warn("message channel still open after exit", "pid", p.Pid())
			}
			p.channel.Close()
			<-p.drained
		}

		if p.cmd.ProcessState == nil {
			p.status = ExitStatus{Pid: p.Pid(), Code: -1, Err: err}
			return
		}
		p.status = exitStatusOf(p.Pid(), p.cmd.ProcessState)
	})
	return p.status
}
