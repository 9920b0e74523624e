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
	"log"
	"os"
	"path/filepath"

	"baq.dev/pkg/envelope"
	"baq.dev/pkg/manifest"
	"baq.dev/pkg/objectstore"
)

// FromBackup downloads and decrypts backupID's manifest, then restores
// every file and directory it names to destPath. How destPath is
// interpreted depends on what already exists there and on whether the
// backup covered a single file/block device or a whole directory tree;
// see resolveDestination.
func FromBackup(ctx context.Context, store objectstore.Store, env envelope.Envelope, keyPrefix, backupID, destPath string, logger *log.Logger) (*manifest.Index, error) {
	idx, err := LoadManifest(ctx, store, env, keyPrefix, backupID)
	if err != nil {
		return nil, err
	}

	resolver, err := resolveDestination(destPath, idx.Header.SingleFile, logger)
	if err != nil {
		return nil, err
	}

	if err := Run(ctx, Options{Store: store, Manifest: idx, GetRestorePath: resolver, Log: logger}); err != nil {
		return idx, err
	}
	return idx, nil
}

// resolveDestination picks the PathResolver for destPath, mirroring
// get_restore_path's dispatch in the original restore driver:
//
//   - single-file backup, destPath a directory: restore the file inside it.
//   - single-file backup, destPath a regular file, a block device, or
//     nonexistent: overwrite/create destPath itself.
//   - directory-tree backup, destPath a directory: restore into it.
//   - directory-tree backup, destPath nonexistent: create it, then
//     restore into it.
//   - anything else is an error: we refuse to guess.
func resolveDestination(destPath string, singleFile bool, logger *log.Logger) (PathResolver, error) {
	info, statErr := os.Stat(destPath)
	switch {
	case statErr == nil:
		// handled below, per case.
	case os.IsNotExist(statErr):
		info = nil
	default:
		return nil, fmt.Errorf("restore: statting %s: %w", destPath, statErr)
	}

	if singleFile {
		switch {
		case info != nil && info.IsDir():
			return DirResolver(destPath), nil
		case info == nil || info.Mode().IsRegular() || isDeviceMode(info.Mode()):
			return SingleFileResolver(destPath), nil
		default:
			return nil, fmt.Errorf("restore: %s: please provide a directory, file, or block device to restore a single file", destPath)
		}
	}

	switch {
	case info != nil && info.IsDir():
		return DirResolver(destPath), nil
	case info == nil:
		logger.Printf("restore: creating restore directory %s", destPath)
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return nil, fmt.Errorf("restore: creating restore directory %s: %w", destPath, err)
		}
		return DirResolver(destPath), nil
	default:
		return nil, fmt.Errorf("restore: %s: please provide a directory to restore into", destPath)
	}
}

// isDeviceMode reports whether mode is a block device (not a character
// device; those aren't valid single-file restore targets).
func isDeviceMode(mode os.FileMode) bool {
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

// LoadManifest downloads backupID's encrypted manifest, decrypts it, and
// loads it into memory for FromBackup. Backups do not call it: they seed
// their dedup index from the local dedupcache copy instead.
func LoadManifest(ctx context.Context, store objectstore.Store, env envelope.Envelope, keyPrefix, backupID string) (*manifest.Index, error) {
	tempDir, err := os.MkdirTemp("", "baq-restore.")
	if err != nil {
		return nil, fmt.Errorf("restore: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	encPath := filepath.Join(tempDir, "meta.gpg")
	if err := downloadObject(ctx, store, keyPrefix+fmt.Sprintf("baq.%s.meta", backupID), encPath); err != nil {
		return nil, fmt.Errorf("restore: downloading manifest: %w", err)
	}

	plainPath := filepath.Join(tempDir, "meta")
	if err := env.Decrypt(ctx, encPath, plainPath); err != nil {
		return nil, fmt.Errorf("restore: decrypting manifest: %w", err)
	}

	f, err := os.Open(plainPath)
	if err != nil {
		return nil, fmt.Errorf("restore: opening decrypted manifest: %w", err)
	}
	defer f.Close()

	idx, err := manifest.LoadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return idx, nil
}

func downloadObject(ctx context.Context, store objectstore.Store, name, dest string) error {
	rc, err := store.GetObject(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, rc)
	return err
}
