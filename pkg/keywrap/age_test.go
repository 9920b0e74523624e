// Copyright 2021 The age Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package keywrap

import (
	"bytes"
	"io"
	"testing"

	"filippo.io/age"
)

func TestAgeRoundTrip(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewAge(id.Recipient().String(), id.String())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	wc, err := w.WrapWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("cached manifest bytes")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := w.UnwrapReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "cached manifest bytes" {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestPassthrough(t *testing.T) {
	var p Passthrough
	var buf bytes.Buffer
	wc, _ := p.WrapWriter(&buf)
	wc.Write([]byte("hello"))
	wc.Close()
	r, _ := p.UnwrapReader(&buf)
	got, _ := io.ReadAll(r)
	if string(got) != "hello" {
		t.Fatalf("passthrough mismatch: got %q", got)
	}
}

func TestWrapWriterWithoutRecipientFails(t *testing.T) {
	a := &Age{}
	if _, err := a.WrapWriter(&bytes.Buffer{}); err == nil {
		t.Fatal("expected error with no recipient configured")
	}
}
