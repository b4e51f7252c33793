// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"

	"github.com/fnichol/iocage-provision/internal/config"
)

// logLevel maps -v counts onto a level. Without -v the configured level applies.
func logLevel(verbosity int, configured config.LogLevel) log.Level {
	if verbosity > 0 {
		return log.DebugLevel
	}
	level, err := log.ParseLevel(string(configured))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// newLogger builds the process logger and installs it as the slog default.
// Two or more -v add timestamps and caller locations.
func newLogger(w io.Writer, verbosity int, configured config.LogLevel) (*log.Logger, *slog.Logger) {
	logger := log.NewWithOptions(w, log.Options{
		Level:           logLevel(verbosity, configured),
		ReportTimestamp: verbosity >= 2,
		ReportCaller:    verbosity >= 2,
	})
	sl := slog.New(logger)
	slog.SetDefault(sl)
	return logger, sl
}
