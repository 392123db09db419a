package util

import (
	"fmt"
	"io"
	"os"

	"github.com/KarpelesLab/ringbuf"
	"github.com/pterm/pterm"
)

// logbuf keeps the most recent log output for the admin endpoint.
var logbuf *ringbuf.Writer

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Writer = os.Stderr

	var err error
	logbuf, err = ringbuf.New(1024 * 1024)
	if err == nil {
		pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, logbuf)
	} else {
		pterm.DefaultLogger.Warn(fmt.Sprintf("failed to set up log buffer: %s", err))
	}
}

// Leveled logging functions backed by the pterm default logger.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// LogDump copies the buffered log history to w.
func LogDump(w io.Writer) (int64, error) {
	if logbuf == nil {
		return 0, nil
	}
	r := logbuf.Reader()
	defer r.Close()
	return io.Copy(w, r)
}
