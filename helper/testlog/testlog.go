// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testlog creates loggers backed by testing.T so component log
// output lands in the test output of the test that produced it.
package testlog

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	t LogPrinter
}

func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t}
}

// HCLogger returns an hclog.Logger at trace level writing through t. Set
// DAQCTL_TEST_STDERR=1 to send the output to stderr instead, which is useful
// when a test deadlocks and buffered output would be lost.
func HCLogger(t LogPrinter) hclog.Logger {
	var out io.Writer = NewWriter(t)
	if os.Getenv("DAQCTL_TEST_STDERR") == "1" {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Level:           hclog.Trace,
		Output:          out,
		IncludeLocation: true,
	})
}
