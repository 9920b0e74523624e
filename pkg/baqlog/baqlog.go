// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package baqlog builds the *log.Logger every other package accepts as
// a plain constructor argument. There is no package-level default
// logger here: callers that want one construct it once in cmd/baq and
// pass it down, the same way blobpacked's storage takes a *log.Logger
// rather than calling through a global.
package baqlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// New returns a logger writing to os.Stderr, or to the file named by
// logFile if it is non-empty. The caller owns the returned io.Closer
// and should close it (if non-nil) when the program exits.
func New(logFile string, verbose bool) (*log.Logger, io.Closer, error) {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lmicroseconds
	}
	if logFile == "" {
		return log.New(os.Stderr, "", flags), nil, nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("baqlog: opening log file %s: %w", logFile, err)
	}
	return log.New(f, "", flags), f, nil
}
