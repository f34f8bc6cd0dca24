// Package util provides the shared logger and traffic counters.
package util

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.Writer = os.Stderr
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "15:04:05.000"
	pterm.DefaultLogger.MaxWidth = 1000
}

// The Log* helpers are the relay client's and the CLI's printf-style log
// sinks. They write through pterm's default logger, pointed at stderr so
// stdout carries only rendered tutorial state, tables and session ids.

// LogDebug is for frame-level tracing, shown only with --debug.
func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

// LogInfo reports connection and phase progress.
func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone such as joining a session or taking control.
func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogWarning reports recoverable sync errors.
func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

// LogError reports failures the session cannot recover from.
func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// LogFields logs msg at info level with key/value pairs rendered by pterm,
// e.g. LogFields("phase changed", "phase", "ACTIVE", "reason", "claim").
func LogFields(msg string, kv ...any) {
	pterm.DefaultLogger.Info(msg, pterm.DefaultLogger.Args(kv...))
}

// EnableDebug turns on frame-level tracing.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Quiet drops everything below error level. Tests call it from init.
func Quiet() {
	pterm.DefaultLogger.Level = pterm.LogLevelError
}
