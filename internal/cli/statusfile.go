package cli

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/lestrrat-go/supervisor"
	"github.com/pkg/errors"
)

// statusFile keeps one "generation:pid" line per live child. It is only
// touched from the event dispatcher, so it needs no lock.
type statusFile struct {
	path    string
	workers map[int]int // generation to pid
	created bool
}

func newStatusFile(path string) *statusFile {
	return &statusFile{
		path:    path,
		workers: make(map[int]int),
	}
}

func (f *statusFile) update(ev supervisor.Event) error {
	switch ev.Name {
	case supervisor.EventSpawn:
		f.workers[ev.Generation] = ev.Pid
	case supervisor.EventExit:
		if _, ok := f.workers[ev.Generation]; !ok {
			return nil
		}
		delete(f.workers, ev.Generation)
	default:
		return nil
	}
	return f.write()
}

func (f *statusFile) write() error {
	keys := make([]int, 0, len(f.workers))
	for k := range f.workers {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%d:%d\n", k, f.workers[k])
	}

	tmpfn := f.path + "." + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmpfn, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "failed to create temporary file:%s", tmpfn)
	}
	f.created = true
	return errors.Wrapf(os.Rename(tmpfn, f.path), "failed to rename %s to %s", tmpfn, f.path)
}

func (f *statusFile) remove() {
	if f.created {
		os.Remove(f.path)
	}
}
