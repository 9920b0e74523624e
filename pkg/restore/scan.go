// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"baq.dev/pkg/blockcrypto"
	"baq.dev/pkg/objectstore"
)

// dirMu serializes directory creation across concurrent writers so two
// workers racing to restore sibling blocks don't both attempt the same
// MkdirAll at once. os.MkdirAll already tolerates the race on its own,
// but the original restore tool held a single global lock here and this
// keeps the same shape.
var dirMu sync.Mutex

// restoreChunk scans c's blocks against whatever already exists at their
// destinations, then fetches and writes whichever of them are still
// missing or wrong.
func restoreChunk(ctx context.Context, opts Options, scanSem, fetchSem *semaphore.Weighted, writePool chan<- interface{}, dec *zstd.Decoder, c chunk) error {
	if err := scanSem.Acquire(ctx, 1); err != nil {
		return err
	}
	pending := scanAlreadyRestored(opts, c.blocks)
	scanSem.Release(1)

	if len(pending) == 0 {
		return nil
	}

	if err := fetchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer fetchSem.Release(1)

	return fetchAndWrite(ctx, opts, writePool, dec, c.dataFileName, pending)
}

// scanAlreadyRestored returns the subset of targets whose destination
// doesn't already hold the correct bytes. A block already present (for
// instance from an earlier, interrupted restore) is skipped entirely, so
// resuming a restore only ever re-fetches what's missing or wrong.
func scanAlreadyRestored(opts Options, targets []blockTarget) []blockTarget {
	var pending []blockTarget
	for _, t := range targets {
		if blockAlreadyRestored(opts, t) {
			continue
		}
		pending = append(pending, t)
	}
	return pending
}

func blockAlreadyRestored(opts Options, t blockTarget) bool {
	dest := opts.GetRestorePath(t.Path)
	f, err := os.Open(dest)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, t.Block.Size)
	if _, err := f.ReadAt(buf, t.Block.Offset); err != nil {
		return false
	}
	if blockcrypto.SumBlockID(buf) == t.Block.SHA3 {
		return true
	}
	if !allZero(buf) {
		logf(opts.Log, "restore: %s: data changed at offset %d, re-fetching", dest, t.Block.Offset)
	}
	return false
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// writeFuture is the result of one in-flight write submitted to the
// write pool.
type writeFuture struct {
	done chan struct{}
	err  error
}

func (f *writeFuture) wait() error {
	<-f.done
	return f.err
}

// fetchAndWrite downloads the byte ranges for every pending block through
// one GetRanges call, which coalesces adjacent ranges into as few
// requests as the backend allows, and submits a write task per block to the shared
// write pool, never letting more than MaxOutstandingWrites sit
// unacknowledged at once.
func fetchAndWrite(ctx context.Context, opts Options, writePool chan<- interface{}, dec *zstd.Decoder, dataFileName string, targets []blockTarget) error {
	ranges := make([]objectstore.Range, len(targets))
	for i, t := range targets {
		ranges[i] = objectstore.Range{Offset: t.Block.StoreOffset, Size: t.Block.StoreSize}
	}

	rc, err := opts.Store.GetRanges(ctx, dataFileName, ranges)
	if err != nil {
		return fmt.Errorf("restore: fetching ranges from %s: %w", dataFileName, err)
	}
	defer rc.Close()

	var futures []*writeFuture
	for _, t := range targets {
		encrypted := make([]byte, t.Block.StoreSize)
		if _, err := io.ReadFull(rc, encrypted); err != nil {
			return fmt.Errorf("restore: reading fetched block for %s: %w", t.Path, err)
		}

		fut := &writeFuture{done: make(chan struct{})}
		t := t
		writePool <- func() {
			fut.err = writeRestoreBlock(opts, t, encrypted, dec)
			close(fut.done)
		}
		futures = append(futures, fut)

		for len(futures) > MaxOutstandingWrites {
			if err := futures[0].wait(); err != nil {
				return err
			}
			futures = futures[1:]
		}
	}

	for _, fut := range futures {
		if err := fut.wait(); err != nil {
			return err
		}
	}
	return nil
}

// writeRestoreBlock decrypts, decompresses, and verifies one block, then
// writes it to its destination at the recorded offset.
func writeRestoreBlock(opts Options, t blockTarget, encrypted []byte, dec *zstd.Decoder) error {
	compressed, err := blockcrypto.Decrypt(encrypted, t.Block.AESKey)
	if err != nil {
		return fmt.Errorf("restore: decrypting %s: %w", t.Path, err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("restore: decompressing %s: %w", t.Path, err)
	}
	if blockcrypto.SumBlockID(raw) != t.Block.SHA3 {
		return fmt.Errorf("restore: %s at offset %d: %w", t.Path, t.Block.Offset, errChecksumMismatch)
	}

	dest := opts.GetRestorePath(t.Path)
	if err := ensureParentDir(dest); err != nil {
		return err
	}

	f, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("restore: opening %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(raw, t.Block.Offset); err != nil {
		return fmt.Errorf("restore: writing %s at offset %d: %w", dest, t.Block.Offset, err)
	}
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	dirMu.Lock()
	defer dirMu.Unlock()
	return os.MkdirAll(dir, 0o755)
}

