// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package backup

import (
	"sync"

	"baq.dev/pkg/blockcrypto"
	"baq.dev/pkg/manifest"
)

// StoredLocation is where a block's encrypted bytes live, and the key
// they were encrypted under.
type StoredLocation struct {
	DataFileName string
	Offset       int64
	Size         int64
	AESKey       blockcrypto.Key
}

// DedupIndex maps a block's content address to where it was last
// stored. One index serves every file of a backup run, and within a
// file it is shared by every compress+encrypt worker and the store
// stage, so it is guarded by a mutex rather than assuming
// single-goroutine access.
type DedupIndex struct {
	mu sync.Mutex
	m  map[blockcrypto.BlockID]StoredLocation
}

// NewDedupIndex returns an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{m: make(map[blockcrypto.BlockID]StoredLocation)}
}

// SeedDedupIndex builds a DedupIndex pre-populated from a prior
// backup's manifest, so files unchanged since that backup need no new
// blocks stored at all.
func SeedDedupIndex(idx *manifest.Index) *DedupIndex {
	d := NewDedupIndex()
	for id, fd := range idx.Blocks {
		d.m[id] = StoredLocation{
			DataFileName: fd.StoreFile,
			Offset:       fd.StoreOffset,
			Size:         fd.StoreSize,
			AESKey:       fd.AESKey,
		}
	}
	return d
}

// Get returns the stored location for a block id, if known.
func (d *DedupIndex) Get(id blockcrypto.BlockID) (StoredLocation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc, ok := d.m[id]
	return loc, ok
}

// Put records where a newly stored block landed. Concurrent Puts of the
// same id are idempotent: whichever wins, the block is already on disk
// under that address, so either location is a valid dedup target.
func (d *DedupIndex) Put(id blockcrypto.BlockID, loc StoredLocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[id] = loc
}

// Len reports how many distinct blocks the index currently knows about.
func (d *DedupIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.m)
}
