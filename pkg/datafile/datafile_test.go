// Copyright 2012 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package datafile

import (
	"bytes"
	"context"
	"testing"

	"baq.dev/pkg/objectstore"
)

func TestStoreBlockSingleFile(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c := NewCollector(store, "backup1", "", objectstore.StorageClassStandard)

	blocks := [][]byte{
		bytes.Repeat([]byte("a"), 10),
		bytes.Repeat([]byte("b"), 20),
		bytes.Repeat([]byte("c"), 30),
	}
	var locs []Location
	for _, b := range blocks {
		loc, err := c.StoreBlock(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		locs = append(locs, loc)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if locs[0].DataFileName != locs[1].DataFileName || locs[1].DataFileName != locs[2].DataFileName {
		t.Fatalf("expected all three blocks in the same data file, got %+v", locs)
	}
	if locs[0].Offset != 0 || locs[1].Offset != 10 || locs[2].Offset != 30 {
		t.Fatalf("unexpected offsets: %+v", locs)
	}

	r, err := store.GetObject(ctx, locs[0].DataFileName)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	want := bytes.Join(blocks, nil)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("stored data file contents = %q, want %q", buf.Bytes(), want)
	}
}

func TestStoreBlockRollsOverAtDataFileSize(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c := NewCollector(store, "backup1", "", objectstore.StorageClassStandard)
	c.dataFileSize = 16
	c.partSize = 16

	a, err := c.StoreBlock(ctx, bytes.Repeat([]byte("x"), 10))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.StoreBlock(ctx, bytes.Repeat([]byte("y"), 10))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if a.DataFileName == b.DataFileName {
		t.Fatalf("expected a new data file after exceeding dataFileSize, got same name %q", a.DataFileName)
	}
	if b.Offset != 0 {
		t.Fatalf("second data file should start at offset 0, got %d", b.Offset)
	}
}

func TestCollectorAbort(t *testing.T) {
	store, err := objectstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c := NewCollector(store, "backup1", "", objectstore.StorageClassStandard)
	if _, err := c.StoreBlock(ctx, []byte("partial data")); err != nil {
		t.Fatal(err)
	}
	c.Abort()

	names, err := store.List(ctx, "baq.backup1.")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("aborted collector should not have produced any completed data files, got %v", names)
	}
}
