//go:build !windows

package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// writePidFile writes our pid to path and holds an exclusive lock on it
// until the returned function is called.
func writePidFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file:%s", path)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "flock failed(%s), is another supervise running?", path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to truncate file(%s)", path)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to sync file(%s)", path)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
