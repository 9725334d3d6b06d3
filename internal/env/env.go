// Package env assembles the environment handed to a child process.
package env

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// EnvdirKey names the variable holding the envdir path.
const EnvdirKey = "ENVDIR"

type pair struct {
	key   string
	value string
}

// Loader merges KEY=VALUE pairs with the contents of an envdir.
type Loader struct {
	pairs  []pair
	envdir string
}

// NewLoader takes a snapshot of environ, or of os.Environ() if none is
// given. The envdir is taken from the last ENVDIR entry.
func NewLoader(environ ...string) *Loader {
	if len(environ) == 0 {
		environ = os.Environ()
	}

	l := &Loader{pairs: make([]pair, 0, len(environ))}
	for _, v := range environ {
		i := strings.IndexByte(v, '=')
		if i <= 0 {
			continue
		}
		l.pairs = append(l.pairs, pair{key: v[:i], value: v[i+1:]})
		if v[:i] == EnvdirKey {
			l.envdir = v[i+1:]
		}
	}
	return l
}

// Envdir returns the envdir this loader reads, if any.
func (l *Loader) Envdir() string {
	return l.envdir
}

// Environ returns the merged environment as KEY=VALUE strings. A key
// keeps the position of its first appearance and the last value given
// for it. Envdir files are applied after the pairs: the first line of
// each file becomes the value, and an empty file removes the variable.
func (l *Loader) Environ(options ...Option) []string {
	loadEnvdir := true
	var unset []string
	for _, o := range options {
		switch o.Name() {
		case LoadEnvdirKey:
			loadEnvdir = o.Value().(bool)
		case UnsetKey:
			unset = append(unset, o.Value().([]string)...)
		}
	}

	var keys []string
	values := make(map[string]string)
	set := func(k, v string) {
		if _, ok := values[k]; !ok {
			keys = append(keys, k)
		}
		values[k] = v
	}

	for _, p := range l.pairs {
		set(p.key, p.value)
	}

	if loadEnvdir && l.envdir != "" {
		for _, p := range readEnvdir(l.envdir) {
			if p.value == "" {
				delete(values, p.key)
				continue
			}
			set(p.key, p.value)
		}
	}

	for _, k := range unset {
		delete(values, k)
	}

	environ := make([]string, 0, len(values))
	for _, k := range keys {
		if v, ok := values[k]; ok {
			environ = append(environ, k+"="+v)
		}
	}
	return environ
}

// readEnvdir ignores unreadable entries, subdirectories and dot files.
func readEnvdir(dir string) []pair {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var pairs []pair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.ContainsRune(name, '=') {
			continue
		}

		buf, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}

		var line []byte
		if sc := bufio.NewScanner(bytes.NewReader(buf)); sc.Scan() {
			line = sc.Bytes()
		}
		pairs = append(pairs, pair{key: name, value: string(bytes.TrimSpace(line))})
	}
	return pairs
}
