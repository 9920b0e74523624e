// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"fmt"
	"regexp"
	"strings"

	"baq.dev/pkg/objectstore"
)

// openDestination parses a backup destination URL and returns the Store
// that talks to it, plus a key prefix for object names. The returned key
// prefix is always empty: an s3:// prefix is applied by the S3 store
// itself.
//
//   - s3://bucket/prefix      -> S3, object names under prefix
//   - file:///absolute/path   -> Local, rooted at /absolute/path
//   - file://relative/path    -> Local, rooted at ./relative/path
func openDestination(destURL string) (objectstore.Store, string, error) {
	switch {
	case strings.HasPrefix(destURL, "s3://"):
		rest := strings.TrimPrefix(destURL, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, "", fmt.Errorf("destination %q: missing bucket name", destURL)
		}
		store, err := objectstore.NewS3(bucket, prefix)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil

	case strings.HasPrefix(destURL, "file://"):
		dir := strings.TrimPrefix(destURL, "file://")
		if dir == "" {
			return nil, "", fmt.Errorf("destination %q: missing path", destURL)
		}
		store, err := objectstore.NewLocal(dir)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil

	default:
		return nil, "", fmt.Errorf("destination %q: unrecognized scheme (want s3:// or file://)", destURL)
	}
}

// metaFilenameRe matches a manifest object's base name, baq.<backup-id>.meta.
var metaFilenameRe = regexp.MustCompile(`^baq\.(.+)\.meta$`)

// parseBackupURL splits a full backup-url (the destination URL plus the
// trailing baq.<backup-id>.meta object name, as printed at the end of a
// backup run) into the Store for the destination and the backup ID,
// grounded on do_restore's own backup_url parsing.
func parseBackupURL(backupURL string) (objectstore.Store, string, error) {
	i := strings.LastIndex(backupURL, "/")
	if i < 0 {
		return nil, "", fmt.Errorf("backup URL %q: expected <destination-url>/baq.<backup-id>.meta", backupURL)
	}
	destURL, filename := backupURL[:i], backupURL[i+1:]

	m := metaFilenameRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, "", fmt.Errorf("backup URL %q: expected a baq.<backup-id>.meta filename, got %q", backupURL, filename)
	}
	backupID := m[1]

	store, _, err := openDestination(destURL)
	if err != nil {
		return nil, "", err
	}
	return store, backupID, nil
}
