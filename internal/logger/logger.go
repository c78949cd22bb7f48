// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package logger constructs the go-kit loggers used by the client.
package logger // import "mellium.im/client/internal/logger"

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Levels accepted by New.
const (
	DebugLevel   = "debug"
	InfoLevel    = "info"
	WarningLevel = "warn"
	ErrorLevel   = "error"
	OffLevel     = "off"
)

// New creates a go-kit logger writing to w with the configured level and
// format ("json" or "logfmt").
// An unknown level allows everything.
func New(w io.Writer, lv, format string) log.Logger {
	var logger log.Logger
	var allow level.Option

	sw := log.NewSyncWriter(w)
	if format == "json" {
		logger = log.NewJSONLogger(sw)
	} else {
		logger = log.NewLogfmtLogger(sw)
	}
	switch lv {
	case DebugLevel:
		allow = level.AllowDebug()
	case InfoLevel:
		allow = level.AllowInfo()
	case WarningLevel:
		allow = level.AllowWarn()
	case ErrorLevel:
		allow = level.AllowError()
	case OffLevel:
		allow = level.AllowNone()
	default:
		allow = level.AllowAll()
	}
	return log.With(level.NewFilter(logger, allow), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// OrNop returns l, or a logger that discards everything if l is nil.
func OrNop(l log.Logger) log.Logger {
	if l == nil {
		return log.NewNopLogger()
	}
	return l
}
