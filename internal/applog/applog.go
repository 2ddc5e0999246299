// Package applog wires the process-wide go-logging backends: a rotating log
// file under the config directory and, with --verbose, coloured stderr.
package applog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"
)

// FileName is the active log file inside the log directory.
const FileName = "w3ico.log"

var stderrLogFormat = logging.MustStringFormatter(
	`%{color:reset}%{color}%{time:15:04:05.000} [%{module}] [%{shortfunc}] [%{level}] %{message}%{color:reset}`,
)

var fileLogFormat = logging.MustStringFormatter(
	`%{time:2006-01-02 15:04:05.000} [%{module}] [%{shortfunc}] [%{level}] %{message}`,
)

// Setup installs the backends at level (CRITICAL … DEBUG, any case). The
// returned Closer releases the log file.
func Setup(logDir, level string, verbose bool) (io.Closer, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	w := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	backends := []logging.Backend{
		logging.NewBackendFormatter(logging.NewLogBackend(w, "", 0), fileLogFormat),
	}
	if verbose {
		backends = append(backends,
			logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), stderrLogFormat))
	}
	logging.SetBackend(backends...)
	logging.SetLevel(lvl, "")
	return w, nil
}

// Silence drops all log output. Commands that never touch the config dir
// use it so nothing leaks to the terminal.
func Silence() {
	logging.SetBackend(logging.NewLogBackend(io.Discard, "", 0))
	logging.SetLevel(logging.CRITICAL, "")
}
