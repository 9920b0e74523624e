// Copyright 2021 The age Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package keywrap

import (
	"fmt"
	"io"

	"filippo.io/age"
)

// Age wraps a stream with the age file encryption format, using a single
// X25519 recipient/identity pair.
type Age struct {
	recipient age.Recipient
	identity  age.Identity
}

// NewAge builds an Age wrapper. Either argument may be empty, but
// WrapWriter requires a recipient and UnwrapReader requires an identity.
func NewAge(recipientStr, identityStr string) (*Age, error) {
	a := &Age{}
	if recipientStr != "" {
		r, err := age.ParseX25519Recipient(recipientStr)
		if err != nil {
			return nil, fmt.Errorf("keywrap: parsing age recipient: %w", err)
		}
		a.recipient = r
	}
	if identityStr != "" {
		id, err := age.ParseX25519Identity(identityStr)
		if err != nil {
			return nil, fmt.Errorf("keywrap: parsing age identity: %w", err)
		}
		a.identity = id
	}
	return a, nil
}

func (a *Age) WrapWriter(dst io.Writer) (io.WriteCloser, error) {
	if a.recipient == nil {
		return nil, fmt.Errorf("keywrap: no age recipient configured")
	}
	w, err := age.Encrypt(dst, a.recipient)
	if err != nil {
		return nil, fmt.Errorf("keywrap: age encrypt: %w", err)
	}
	return w, nil
}

func (a *Age) UnwrapReader(src io.Reader) (io.Reader, error) {
	if a.identity == nil {
		return nil, fmt.Errorf("keywrap: no age identity configured")
	}
	r, err := age.Decrypt(src, a.identity)
	if err != nil {
		return nil, fmt.Errorf("keywrap: age decrypt: %w", err)
	}
	return r, nil
}

// passthrough is the nil-Wrapper behavior, used by dedupcache when no
// wrapping is configured.
type passthroughWriteCloser struct{ io.Writer }

func (passthroughWriteCloser) Close() error { return nil }

// Passthrough returns bytes unchanged; useful as an explicit no-op
// Wrapper where a nil interface value would be awkward to construct.
type Passthrough struct{}

func (Passthrough) WrapWriter(dst io.Writer) (io.WriteCloser, error) {
	return passthroughWriteCloser{dst}, nil
}

func (Passthrough) UnwrapReader(src io.Reader) (io.Reader, error) {
	return src, nil
}
