// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package dedupcache keeps a local copy of the most recent backup's
// manifest for a given destination, so the next backup to that same
// destination can seed its dedup index without downloading the remote
// manifest. It is purely an optimization: if the cache is missing or
// unreadable, the caller should fall back to treating the backup as if
// no prior backup existed (or fetch the remote manifest itself): a
// fault-tolerant stance toward a cold cache.
package dedupcache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"baq.dev/pkg/keywrap"
	"baq.dev/pkg/manifest"
)

// ErrNoCache is returned by Load when no cached manifest exists yet for
// a destination.
var ErrNoCache = errors.New("dedupcache: no cached manifest for this destination")

// Cache manages the single cached manifest for one backup destination.
type Cache struct {
	dir     string // root cache directory, e.g. ~/.cache/baq
	name    string // sha1 of the destination URL
	wrapper keywrap.Wrapper
}

// New returns a Cache for destinationURL rooted at cacheDir. If wrapper
// is nil, the cached manifest is stored unencrypted, matching the
// original cache's behavior.
func New(cacheDir, destinationURL string, wrapper keywrap.Wrapper) *Cache {
	if wrapper == nil {
		wrapper = keywrap.Passthrough{}
	}
	sum := sha1.Sum([]byte(destinationURL))
	return &Cache{
		dir:     cacheDir,
		name:    hex.EncodeToString(sum[:]),
		wrapper: wrapper,
	}
}

func (c *Cache) dirPath() string  { return filepath.Join(c.dir, c.name) }
func (c *Cache) metaPath() string { return filepath.Join(c.dirPath(), "last-meta") }

// Load reads the cached manifest and builds an Index from it. It
// returns ErrNoCache if no manifest has been cached yet for this
// destination.
func (c *Cache) Load() (*manifest.Index, error) {
	f, err := os.Open(c.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCache
	}
	if err != nil {
		return nil, fmt.Errorf("dedupcache: opening cached manifest: %w", err)
	}
	defer f.Close()

	r, err := c.wrapper.UnwrapReader(f)
	if err != nil {
		return nil, fmt.Errorf("dedupcache: unwrapping cached manifest: %w", err)
	}
	idx, err := manifest.LoadIndex(r)
	if err != nil {
		return nil, fmt.Errorf("dedupcache: reading cached manifest: %w", err)
	}
	return idx, nil
}

// Store replaces the cached manifest with the gzip-compressed manifest
// bytes read from src, writing it through a temp file and renaming it
// into place so a reader never observes a partial cache file.
func (c *Cache) Store(src io.Reader) error {
	if err := os.MkdirAll(c.dirPath(), 0o755); err != nil {
		return fmt.Errorf("dedupcache: creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dirPath(), ".last-meta-*")
	if err != nil {
		return fmt.Errorf("dedupcache: creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	wc, err := c.wrapper.WrapWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("dedupcache: wrapping cache writer: %w", err)
	}
	if _, err := io.Copy(wc, src); err != nil {
		wc.Close()
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("dedupcache: writing cache file: %w", err)
	}
	if err := wc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("dedupcache: finalizing cache wrapper: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("dedupcache: closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.metaPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("dedupcache: installing cache file: %w", err)
	}
	return nil
}
