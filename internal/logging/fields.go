package logging

import (
	"log/slog"
	"time"
)

// Canonical log field names shared across packages.
const (
	KeyRunID      = "run_id"
	KeyStage      = "stage"
	KeySource     = "source"
	KeyObject     = "object"
	KeyDependency = "dependency"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyStatus     = "status"
	KeyError      = "error"
)

func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Source(path string) slog.Attr     { return slog.String(KeySource, path) }
func Object(path string) slog.Attr     { return slog.String(KeyObject, path) }
func Dependency(name string) slog.Attr { return slog.String(KeyDependency, name) }
func Command(line string) slog.Attr    { return slog.String(KeyCommand, line) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }

// Duration renders d as fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}

	return slog.String(KeyError, err.Error())
}
