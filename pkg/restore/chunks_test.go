// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package restore

import (
	"testing"

	"baq.dev/pkg/manifest"
)

func TestBuildChunksGroupsByDataFileAndSortsByOffset(t *testing.T) {
	idx := &manifest.Index{
		Files: map[string]manifest.FileEntry{
			"a.txt": {
				Blocks: []manifest.FileDataRecord{
					{Offset: 0, StoreFile: "data-1", StoreOffset: 200},
					{Offset: 4096, StoreFile: "data-1", StoreOffset: 0},
				},
			},
			"b.txt": {
				Blocks: []manifest.FileDataRecord{
					{Offset: 0, StoreFile: "data-2", StoreOffset: 50},
				},
			},
		},
	}

	chunks := buildChunks(idx)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}

	// data-1's lowest block (after sorting within the file) is at store
	// offset 0, below data-2's only block at 50, so data-1's chunk should
	// sort first.
	if chunks[0].dataFileName != "data-1" {
		t.Fatalf("chunks[0].dataFileName = %q, want data-1", chunks[0].dataFileName)
	}
	if got := chunks[0].blocks[0].Block.StoreOffset; got != 0 {
		t.Fatalf("chunks[0] first block store offset = %d, want 0", got)
	}
	if got := chunks[0].blocks[1].Block.StoreOffset; got != 200 {
		t.Fatalf("chunks[0] second block store offset = %d, want 200", got)
	}
	if chunks[1].dataFileName != "data-2" {
		t.Fatalf("chunks[1].dataFileName = %q, want data-2", chunks[1].dataFileName)
	}
}

func TestBuildChunksSplitsLargeDataFiles(t *testing.T) {
	blocks := make([]manifest.FileDataRecord, ChunkSize+1)
	for i := range blocks {
		blocks[i] = manifest.FileDataRecord{Offset: int64(i), StoreFile: "data-1", StoreOffset: int64(i)}
	}
	idx := &manifest.Index{
		Files: map[string]manifest.FileEntry{
			"big.bin": {Blocks: blocks},
		},
	}

	chunks := buildChunks(idx)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[0].blocks) != ChunkSize {
		t.Fatalf("chunks[0] has %d blocks, want %d", len(chunks[0].blocks), ChunkSize)
	}
	if len(chunks[1].blocks) != 1 {
		t.Fatalf("chunks[1] has %d blocks, want 1", len(chunks[1].blocks))
	}
}
