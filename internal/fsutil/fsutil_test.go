// Copyright 2014 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package fsutil

import (
	"os"
	"syscall"
	"testing"
)

func TestOwnerNameUnknownUIDIsEmpty(t *testing.T) {
	if got := OwnerName(1<<31 - 1); got != "" {
		t.Fatalf("OwnerName of an implausible uid = %q, want empty", got)
	}
}

func TestGroupNameUnknownGIDIsEmpty(t *testing.T) {
	if got := GroupName(1<<31 - 1); got != "" {
		t.Fatalf("GroupName of an implausible gid = %q, want empty", got)
	}
}

func TestFromSysStat(t *testing.T) {
	fi, err := os.Stat(".")
	if err != nil {
		t.Fatal(err)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		t.Skip("not running on a syscall.Stat_t platform")
	}
	s := FromSysStat(st)
	if s.Mode == 0 {
		t.Fatal("expected non-zero mode for current directory")
	}
}
