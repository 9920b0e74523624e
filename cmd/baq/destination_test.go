// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"baq.dev/pkg/objectstore"
)

func TestOpenDestinationFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")

	store, keyPrefix, err := openDestination("file://" + sub)
	if err != nil {
		t.Fatalf("openDestination: %v", err)
	}
	if keyPrefix != "" {
		t.Errorf("keyPrefix = %q, want empty", keyPrefix)
	}
	if _, ok := store.(*objectstore.Local); !ok {
		t.Errorf("store type = %T, want *objectstore.Local", store)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Errorf("file:// destination did not create %s: %v", sub, err)
	}
}

func TestOpenDestinationFileMissingPath(t *testing.T) {
	if _, _, err := openDestination("file://"); err == nil {
		t.Fatal("expected error for file:// with no path")
	}
}

func TestOpenDestinationS3(t *testing.T) {
	store, keyPrefix, err := openDestination("s3://my-bucket/some/prefix")
	if err != nil {
		t.Fatalf("openDestination: %v", err)
	}
	if keyPrefix != "" {
		t.Errorf("keyPrefix = %q, want empty", keyPrefix)
	}
	if _, ok := store.(*objectstore.S3); !ok {
		t.Errorf("store type = %T, want *objectstore.S3", store)
	}
}

func TestOpenDestinationS3MissingBucket(t *testing.T) {
	if _, _, err := openDestination("s3://"); err == nil {
		t.Fatal("expected error for s3:// with no bucket")
	}
}

func TestOpenDestinationUnrecognizedScheme(t *testing.T) {
	if _, _, err := openDestination("ftp://example.com/backups"); err == nil {
		t.Fatal("expected error for an unrecognized scheme")
	}
}

func TestParseBackupURLFile(t *testing.T) {
	dir := t.TempDir()

	store, backupID, err := parseBackupURL("file://" + dir + "/baq.20260101T000000Z.meta")
	if err != nil {
		t.Fatalf("parseBackupURL: %v", err)
	}
	if backupID != "20260101T000000Z" {
		t.Errorf("backupID = %q, want %q", backupID, "20260101T000000Z")
	}
	if _, ok := store.(*objectstore.Local); !ok {
		t.Errorf("store type = %T, want *objectstore.Local", store)
	}
}

func TestParseBackupURLS3(t *testing.T) {
	store, backupID, err := parseBackupURL("s3://my-bucket/some/prefix/baq.abc123.meta")
	if err != nil {
		t.Fatalf("parseBackupURL: %v", err)
	}
	if backupID != "abc123" {
		t.Errorf("backupID = %q, want %q", backupID, "abc123")
	}
	if _, ok := store.(*objectstore.S3); !ok {
		t.Errorf("store type = %T, want *objectstore.S3", store)
	}
}

func TestParseBackupURLRejectsMissingMetaSuffix(t *testing.T) {
	if _, _, err := parseBackupURL("s3://my-bucket/prefix/not-a-meta-file"); err == nil {
		t.Fatal("expected error for a filename that isn't baq.<id>.meta")
	}
}

func TestParseBackupURLRejectsNoSlash(t *testing.T) {
	if _, _, err := parseBackupURL("baq.abc123.meta"); err == nil {
		t.Fatal("expected error for a URL with no destination component")
	}
}

func TestRecipientList(t *testing.T) {
	var r recipientList
	if err := r.Set("alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("bob@example.com"); err != nil {
		t.Fatal(err)
	}
	if len(r) != 2 || r[0] != "alice@example.com" || r[1] != "bob@example.com" {
		t.Fatalf("recipientList = %v, want [alice@example.com bob@example.com]", []string(r))
	}
	if r.String() == "" {
		t.Error("String() = \"\", want a non-empty representation")
	}
}
