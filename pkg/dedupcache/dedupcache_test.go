// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package dedupcache

import (
	"bytes"
	"errors"
	"testing"

	"baq.dev/pkg/manifest"
)

func buildManifest(t *testing.T, backupID string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := manifest.NewWriter(&buf)
	if err := w.WriteHeader(manifest.Header{BackupID: backupID, BlockSize: 1 << 20}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestLoadMissingCache(t *testing.T) {
	c := New(t.TempDir(), "s3://bucket/prefix", nil)
	if _, err := c.Load(); !errors.Is(err, ErrNoCache) {
		t.Fatalf("expected ErrNoCache, got %v", err)
	}
}

func TestStoreThenLoad(t *testing.T) {
	c := New(t.TempDir(), "s3://bucket/prefix", nil)
	data := buildManifest(t, "20260730T000000Z")
	if err := c.Store(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
	idx, err := c.Load()
	if err != nil {
		t.Fatal(err)
	}
	if idx.Header.BackupID != "20260730T000000Z" {
		t.Fatalf("unexpected cached header: %+v", idx.Header)
	}
}

func TestDifferentDestinationsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, "s3://bucket/a", nil)
	b := New(dir, "s3://bucket/b", nil)
	if a.dirPath() == b.dirPath() {
		t.Fatal("different destination URLs produced the same cache directory")
	}
	if err := a.Store(bytes.NewReader(buildManifest(t, "A"))); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Load(); !errors.Is(err, ErrNoCache) {
		t.Fatalf("expected b's cache to remain empty, got %v", err)
	}
}
