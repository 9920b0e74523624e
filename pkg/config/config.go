// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package config resolves the environment-variable knobs baq reads at
// startup into a single immutable Config value, which is then threaded
// explicitly through the packages that need it. Nothing in this module
// keeps configuration in a package-level variable the way some of the
// teacher's own packages do (buildinfo.Version, for example); a backup
// and a concurrent restore in the same process must never be able to
// see each other's settings.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"baq.dev/pkg/constants"
)

// DefaultBlockSize is the block size used to split file contents when no
// prior backup's manifest and no BAQ_BLOCK_SIZE override are available.
const DefaultBlockSize = 131072

// Config holds every environment-derived setting a backup or restore run
// needs.
type Config struct {
	// BlockSize is the size blocks are split into when reading a file
	// for the first time. A resumed (incremental) backup always reuses
	// the block size recorded in the previous backup's manifest instead
	// of this value; BlockSize only applies to a destination's very
	// first backup.
	BlockSize int64

	// CacheDir is the root directory dedupcache stores cached manifests
	// under.
	CacheDir string

	// LogFile, if non-empty, is where baqlog sends log output instead of
	// stderr.
	LogFile string

	// CacheRecipient and CacheIdentity, if both set, enable age
	// encryption of the locally cached manifest.
	CacheRecipient string
	CacheIdentity  string

	// WorkerCount is the number of concurrent compress+encrypt workers
	// in the backup pipeline. Defaults to runtime.NumCPU().
	WorkerCount int

	// DataFileSize and PartSize hold the data-file aggregator's sizes.
	// datafile.NewCollector does not take them: a Collector always
	// uses datafile.DataFileSize and datafile.PartSize, whatever these
	// fields say.
	DataFileSize int64
	PartSize     int64
}

// FromEnv builds a Config from the process environment, applying the
// same defaults the original environment-variable names have always
// had.
func FromEnv() (Config, error) {
	c := Config{
		BlockSize:    DefaultBlockSize,
		CacheDir:     defaultCacheDir(),
		WorkerCount:  runtime.NumCPU(),
		DataFileSize: 100 << 30,
		PartSize:     100 << 20,
	}

	if v := os.Getenv("BAQ_BLOCK_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return c, fmt.Errorf("config: BAQ_BLOCK_SIZE: invalid value %q", v)
		}
		if n > constants.MaxBlockSize {
			return c, fmt.Errorf("config: BAQ_BLOCK_SIZE: %d exceeds maximum of %d", n, constants.MaxBlockSize)
		}
		c.BlockSize = n
	}
	if v := os.Getenv("BAQ_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	c.LogFile = os.Getenv("BAQ_LOG_FILE")
	c.CacheRecipient = os.Getenv("BAQ_CACHE_RECIPIENT")
	c.CacheIdentity = os.Getenv("BAQ_CACHE_IDENTITY")
	return c, nil
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cache/baq"
	}
	return home + "/.cache/baq"
}
