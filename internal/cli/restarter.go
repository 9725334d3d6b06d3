package cli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const restarterPollInterval = time.Second

// Restarter asks a running supervise to restart its program and waits
// until only the new generation is left in the status file.
type Restarter struct {
	pidFile      string
	statusFile   string
	pollInterval time.Duration
}

func NewRestarter(pidFile, statusFile string) *Restarter {
	return &Restarter{
		pidFile:      pidFile,
		statusFile:   statusFile,
		pollInterval: restarterPollInterval,
	}
}

func (s *Restarter) Run(ctx context.Context) error {
	pidbuf, err := os.ReadFile(s.pidFile)
	if err != nil {
		return errors.Wrapf(err, "failed to open file:%s", s.pidFile)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidbuf)))
	if err != nil {
		return errors.Wrap(err, "failed to parse pid")
	}

	var waitFor int
	{
		generations, err := readGenerations(s.statusFile)
		if err != nil {
			return errors.Wrap(err, "failed to find generations")
		}
		if len(generations) == 0 {
			return errors.New("no active process found in the status file")
		}
		waitFor = generations[len(generations)-1] + 1
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(err, "failed to find process:%d", pid)
	}
	if err := p.Signal(syscall.SIGHUP); err != nil {
		return errors.Wrap(err, "failed to send SIGHUP to the supervise process")
	}

	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			generations, err := readGenerations(s.statusFile)
			if err != nil {
				return errors.Wrap(err, "failed to find generations")
			}
			if len(generations) == 1 && generations[0] >= waitFor {
				return nil
			}
		}
	}
}

// readGenerations returns the sorted generations listed in a status file.
func readGenerations(file string) ([]int, error) {
	genbuf, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file:%s", file)
	}

	scanner := bufio.NewScanner(bytes.NewReader(genbuf))
	genmap := make(map[int]struct{})
	for scanner.Scan() {
		txt := scanner.Text()
		i := strings.IndexByte(txt, ':')
		if i <= 0 {
			continue
		}
		gen, err := strconv.Atoi(txt[:i])
		if err != nil {
			continue
		}
		genmap[gen] = struct{}{}
	}

	generations := make([]int, 0, len(genmap))
	for k := range genmap {
		generations = append(generations, k)
	}
	sort.Ints(generations)
	return generations, nil
}
