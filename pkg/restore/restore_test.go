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
	"io"
	"os"
	"path/filepath"
	"testing"

	"baq.dev/pkg/backup"
	"baq.dev/pkg/config"
	"baq.dev/pkg/dedupcache"
	"baq.dev/pkg/objectstore"
)

// copyEnvelope is a test double for envelope.Envelope that just copies
// bytes, so tests don't depend on a gpg2 binary being present.
type copyEnvelope struct{}

func (copyEnvelope) Encrypt(_ context.Context, srcPath, dstPath string, _ []string) error {
	return copyFile(srcPath, dstPath)
}

func (copyEnvelope) Decrypt(_ context.Context, srcPath, dstPath string) error {
	return copyFile(srcPath, dstPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func writeTree(t *testing.T, root string) {
	t.Helper()
	os.MkdirAll(filepath.Join(root, "subdir"), 0o755)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world\n"), 0o644)
	os.WriteFile(filepath.Join(root, "subdir", "b.txt"), []byte("some more data in here, more than one block maybe\n"), 0o644)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir)

	storeDir := t.TempDir()
	store, err := objectstore.NewLocal(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{BlockSize: 1 << 20, WorkerCount: 2}
	cache := dedupcache.New(t.TempDir(), "local://test", nil)

	result, err := backup.Run(ctx, backup.Options{
		LocalPath:            srcDir,
		Store:                store,
		StorageClass:         objectstore.StorageClassStandard,
		DestinationURL:       "local://test",
		EncryptionRecipients: []string{"nobody@example.com"},
		Envelope:             copyEnvelope{},
		Cache:                cache,
		Config:               cfg,
	})
	if err != nil {
		t.Fatal(err)
	}

	destDir := t.TempDir()
	idx, err := FromBackup(ctx, store, copyEnvelope{}, "", result.BackupID, destDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Header.SingleFile {
		t.Fatal("expected a directory-tree restore")
	}

	if got, want := readFile(t, filepath.Join(destDir, "a.txt")), "hello world\n"; got != want {
		t.Fatalf("a.txt = %q, want %q", got, want)
	}
	if got, want := readFile(t, filepath.Join(destDir, "subdir", "b.txt")), "some more data in here, more than one block maybe\n"; got != want {
		t.Fatalf("subdir/b.txt = %q, want %q", got, want)
	}
}

func TestRestoreResumesPartialWrite(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	writeTree(t, srcDir)

	storeDir := t.TempDir()
	store, err := objectstore.NewLocal(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{BlockSize: 1 << 20, WorkerCount: 2}
	cache := dedupcache.New(t.TempDir(), "local://test", nil)

	result, err := backup.Run(ctx, backup.Options{
		LocalPath:            srcDir,
		Store:                store,
		StorageClass:         objectstore.StorageClassStandard,
		DestinationURL:       "local://test",
		EncryptionRecipients: []string{"nobody@example.com"},
		Envelope:             copyEnvelope{},
		Cache:                cache,
		Config:               cfg,
	})
	if err != nil {
		t.Fatal(err)
	}

	destDir := t.TempDir()
	// Pre-populate the destination with a file that already holds the
	// correct bytes, so the scan phase should find nothing to restore
	// for it and skip straight past without ever fetching its blocks.
	os.WriteFile(filepath.Join(destDir, "a.txt"), []byte("hello world\n"), 0o644)

	if _, err := FromBackup(ctx, store, copyEnvelope{}, "", result.BackupID, destDir, nil); err != nil {
		t.Fatal(err)
	}

	if got, want := readFile(t, filepath.Join(destDir, "subdir", "b.txt")), "some more data in here, more than one block maybe\n"; got != want {
		t.Fatalf("subdir/b.txt = %q, want %q", got, want)
	}
}

func TestRestoreSingleFile(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "lonely.bin")
	os.WriteFile(srcFile, []byte("just one file, nothing else around it\n"), 0o644)

	storeDir := t.TempDir()
	store, err := objectstore.NewLocal(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{BlockSize: 1 << 20, WorkerCount: 2}

	result, err := backup.Run(ctx, backup.Options{
		LocalPath:            srcFile,
		Store:                store,
		StorageClass:         objectstore.StorageClassStandard,
		DestinationURL:       "local://single",
		EncryptionRecipients: []string{"nobody@example.com"},
		Envelope:             copyEnvelope{},
		Config:               cfg,
	})
	if err != nil {
		t.Fatal(err)
	}

	destFile := filepath.Join(t.TempDir(), "restored.bin")
	idx, err := FromBackup(ctx, store, copyEnvelope{}, "", result.BackupID, destFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Header.SingleFile {
		t.Fatal("expected a single-file restore")
	}
	if got, want := readFile(t, destFile), "just one file, nothing else around it\n"; got != want {
		t.Fatalf("restored.bin = %q, want %q", got, want)
	}
}

func TestRestoreSingleFileIntoExistingDirectory(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "lonely.bin")
	os.WriteFile(srcFile, []byte("just one file, nothing else around it\n"), 0o644)

	storeDir := t.TempDir()
	store, err := objectstore.NewLocal(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{BlockSize: 1 << 20, WorkerCount: 2}

	result, err := backup.Run(ctx, backup.Options{
		LocalPath:            srcFile,
		Store:                store,
		StorageClass:         objectstore.StorageClassStandard,
		DestinationURL:       "local://single-into-dir",
		EncryptionRecipients: []string{"nobody@example.com"},
		Envelope:             copyEnvelope{},
		Config:               cfg,
	})
	if err != nil {
		t.Fatal(err)
	}

	// destDir already exists, so the single file must land inside it
	// under its original relative name rather than overwrite destDir.
	destDir := t.TempDir()
	idx, err := FromBackup(ctx, store, copyEnvelope{}, "", result.BackupID, destDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !idx.Header.SingleFile {
		t.Fatal("expected a single-file restore")
	}
	if got, want := readFile(t, filepath.Join(destDir, "lonely.bin")), "just one file, nothing else around it\n"; got != want {
		t.Fatalf("lonely.bin = %q, want %q", got, want)
	}
}
