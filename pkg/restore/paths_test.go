// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package restore

import (
	"path/filepath"
	"testing"
)

func TestDirResolver(t *testing.T) {
	r := DirResolver("/var/restore")
	if got, want := r("subdir/a.txt"), filepath.Join("/var/restore", "subdir/a.txt"); got != want {
		t.Fatalf("DirResolver = %q, want %q", got, want)
	}
}

func TestSingleFileResolver(t *testing.T) {
	r := SingleFileResolver("/var/restore/out.bin")
	if got := r("whatever/the/manifest/said"); got != "/var/restore/out.bin" {
		t.Fatalf("SingleFileResolver = %q, want /var/restore/out.bin", got)
	}
	if got := r(""); got != "/var/restore/out.bin" {
		t.Fatalf("SingleFileResolver(\"\") = %q, want /var/restore/out.bin", got)
	}
}
