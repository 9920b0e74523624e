// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package config

import (
	"testing"

	"baq.dev/pkg/constants"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, v := range []string{"BAQ_BLOCK_SIZE", "BAQ_CACHE_DIR", "BAQ_LOG_FILE", "BAQ_CACHE_RECIPIENT", "BAQ_CACHE_IDENTITY"} {
		t.Setenv(v, "")
	}
	c, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.BlockSize != DefaultBlockSize {
		t.Fatalf("BlockSize = %d, want %d", c.BlockSize, DefaultBlockSize)
	}
	if c.WorkerCount <= 0 {
		t.Fatalf("WorkerCount = %d, want > 0", c.WorkerCount)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BAQ_BLOCK_SIZE", "1048576")
	t.Setenv("BAQ_CACHE_DIR", "/tmp/baq-cache")
	c, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.BlockSize != 1048576 {
		t.Fatalf("BlockSize = %d, want 1048576", c.BlockSize)
	}
	if c.CacheDir != "/tmp/baq-cache" {
		t.Fatalf("CacheDir = %q, want /tmp/baq-cache", c.CacheDir)
	}
}

func TestFromEnvRejectsBadBlockSize(t *testing.T) {
	t.Setenv("BAQ_BLOCK_SIZE", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for non-numeric BAQ_BLOCK_SIZE")
	}
	t.Setenv("BAQ_BLOCK_SIZE", "0")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for zero BAQ_BLOCK_SIZE")
	}
}

func TestFromEnvRejectsBlockSizeAboveMax(t *testing.T) {
	t.Setenv("BAQ_BLOCK_SIZE", "33554432") // 32 MiB, above constants.MaxBlockSize
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for BAQ_BLOCK_SIZE above the maximum")
	}

	t.Setenv("BAQ_BLOCK_SIZE", "16777216") // exactly constants.MaxBlockSize
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("BAQ_BLOCK_SIZE at the maximum should be accepted: %v", err)
	}
	if c.BlockSize != constants.MaxBlockSize {
		t.Fatalf("BlockSize = %d, want %d", c.BlockSize, constants.MaxBlockSize)
	}
}
