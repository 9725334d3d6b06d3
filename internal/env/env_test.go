package env_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lestrrat-go/supervisor/internal/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnviron(t *testing.T) {
	src := []string{`FOO=foo`, `BAR=bar`, `BAZ=baz`}
	l := env.NewLoader(src...)

	os.Setenv(`QUUX`, `quux`) // This should have no effect
	defer os.Unsetenv(`QUUX`)

	assert.Equal(t, src, l.Environ())
}

func TestEnvironOverride(t *testing.T) {
	l := env.NewLoader(`FOO=foo`, `BAR=bar`, `EMPTY=`, `FOO=override`, `bogus`)
	assert.Equal(t, []string{`FOO=override`, `BAR=bar`, `EMPTY=`}, l.Environ())
}

func TestEnvdir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	write("FROM_DIR", "  hello  \nsecond line ignored\n")
	write("BAR", "from envdir\n")
	write("REMOVED", "")
	write(".hidden", "nope")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "SUBDIR"), 0755))

	l := env.NewLoader(`FOO=foo`, `BAR=bar`, `REMOVED=yes`, env.EnvdirKey+`=`+dir)
	assert.Equal(t, dir, l.Envdir())

	t.Run("merged", func(t *testing.T) {
		assert.Equal(t, []string{
			`FOO=foo`,
			`BAR=from envdir`,
			env.EnvdirKey + `=` + dir,
			`FROM_DIR=hello`,
		}, l.Environ())
	})
	t.Run("without envdir", func(t *testing.T) {
		assert.Equal(t, []string{
			`FOO=foo`,
			`BAR=bar`,
			`REMOVED=yes`,
			env.EnvdirKey + `=` + dir,
		}, l.Environ(env.WithLoadEnvdir(false)))
	})
	t.Run("unset", func(t *testing.T) {
		assert.Equal(t, []string{
			`BAR=from envdir`,
			`FROM_DIR=hello`,
		}, l.Environ(env.WithUnset(`FOO`, env.EnvdirKey)))
	})
}

func TestMissingEnvdir(t *testing.T) {
	l := env.NewLoader(`FOO=foo`, env.EnvdirKey+`=/nonexistent/envdir`)
	assert.Equal(t, []string{`FOO=foo`, env.EnvdirKey + `=/nonexistent/envdir`}, l.Environ())
}

func TestDefaultsToProcessEnvironment(t *testing.T) {
	t.Setenv(`SUPERVISOR_ENV_TEST`, `present`)
	assert.Contains(t, env.NewLoader().Environ(), `SUPERVISOR_ENV_TEST=present`)
}
