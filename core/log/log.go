// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package log configures the process-wide logging backend and hands
// out per-component sub-loggers, the way the rest of this corpus passes
// around a *logging.Logger constructed once at startup.
package log

import (
	"fmt"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

var backendInitialized bool

// Backend configures the op/go-logging backend to write to stderr at
// level (one of logging.{CRITICAL,ERROR,WARNING,NOTICE,INFO,DEBUG}),
// with or without timestamps. Must be called once per process before
// GetLogger is used; subsequent calls are no-ops.
func Backend(level logging.Level, withTimestamps bool) {
	if backendInitialized {
		return
	}
	backendInitialized = true

	format := "%{level:.4s} %{module}: %{message}"
	if withTimestamps {
		format = "%{time:15:04:05.000} " + format
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, logging.MustStringFormatter(format))
	leveled := logging.AddModuleLevel(formatter)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

// ParseLevel maps a config string to a logging.Level, defaulting to
// NOTICE on an unrecognized value.
func ParseLevel(s string) (logging.Level, error) {
	lvl, err := logging.LogLevel(s)
	if err != nil {
		return logging.NOTICE, fmt.Errorf("log: unknown level %q: %w", s, err)
	}
	return lvl, nil
}

// GetLogger returns a sub-logger tagged with component. If Backend has
// not been called yet, it initializes a sane default (NOTICE, no
// timestamps) first.
func GetLogger(component string) *logging.Logger {
	if !backendInitialized {
		Backend(logging.NOTICE, false)
	}
	return logging.MustGetLogger(component)
}
