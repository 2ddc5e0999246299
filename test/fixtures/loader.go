package fixtures

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Mohsinsiddi/w3ico/internal/config"
	"github.com/stretchr/testify/require"
)

// fixturesDir returns the absolute path to the fixtures directory.
func fixturesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}

// ParamsPath returns the absolute path of a params fixture.
func ParamsPath(filename string) string {
	return filepath.Join(fixturesDir(), "params", filename)
}

// LoadParams loads and parses a params fixture.
func LoadParams(t *testing.T, filename string) *config.Params {
	t.Helper()
	p, err := config.LoadParams(ParamsPath(filename))
	require.NoError(t, err, "failed to load params fixture: %s", filename)
	return p
}

// WriteParams copies a params fixture into dir, replacing each {{key}} with
// its value, and returns the new file's path.
func WriteParams(t *testing.T, dir, filename string, vars map[string]string) string {
	t.Helper()
	data, err := os.ReadFile(ParamsPath(filename))
	require.NoError(t, err, "failed to load params fixture: %s", filename)
	body := string(data)
	for k, v := range vars {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	out := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(out, []byte(body), 0o600))
	return out
}
