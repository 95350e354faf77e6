/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process. In debug mode it installs a
// human-readable console writer at debug level; otherwise it writes plain
// JSON at info level, suitable for log aggregation.
func Setup(debug bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var writer = os.Stdout

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	if debug {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}

	log.Logger = logger
	return logger
}

// Component returns a child logger scoped to a named subsystem through a
// "component" field, the same field the internal packages set on their
// own loggers.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
