// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package envelope

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptRequiresRecipients(t *testing.T) {
	g := NewGPG()
	dir := t.TempDir()
	src := filepath.Join(dir, "meta.wip")
	os.WriteFile(src, []byte("data"), 0o644)
	if err := g.Encrypt(context.Background(), src, filepath.Join(dir, "out.gpg"), nil); err == nil {
		t.Fatal("expected error when no recipients are configured")
	}
}

func TestEncryptRefusesExistingDestination(t *testing.T) {
	g := NewGPG()
	dir := t.TempDir()
	src := filepath.Join(dir, "meta.wip")
	dst := filepath.Join(dir, "out.gpg")
	os.WriteFile(src, []byte("data"), 0o644)
	os.WriteFile(dst, []byte("already here"), 0o644)
	if err := g.Encrypt(context.Background(), src, dst, []string{"someone@example.com"}); err == nil {
		t.Fatal("expected error when destination already exists")
	}
}

func TestDecryptRefusesExistingDestination(t *testing.T) {
	g := NewGPG()
	dir := t.TempDir()
	src := filepath.Join(dir, "meta.wip.gpg")
	dst := filepath.Join(dir, "meta.wip")
	os.WriteFile(src, []byte("data"), 0o644)
	os.WriteFile(dst, []byte("already here"), 0o644)
	if err := g.Decrypt(context.Background(), src, dst); err == nil {
		t.Fatal("expected error when destination already exists")
	}
}
