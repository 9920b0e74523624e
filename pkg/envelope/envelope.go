// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package envelope wraps the final manifest in an outer layer of
// encryption before it is uploaded, and removes that layer again when a
// prior manifest is read back. The manifest's records carry every
// block's address and AES key as plain hex, so the envelope is what
// actually protects the manifest at rest: it is uploaded and downloaded
// as one opaque object.
package envelope

import "context"

// Envelope wraps and unwraps a manifest file on disk.
type Envelope interface {
	// Encrypt reads the plaintext manifest at srcPath and writes an
	// encrypted version to dstPath, which must not already exist.
	Encrypt(ctx context.Context, srcPath, dstPath string, recipients []string) error

	// Decrypt reads an encrypted manifest at srcPath and writes the
	// plaintext to dstPath, which must not already exist.
	Decrypt(ctx context.Context, srcPath, dstPath string) error
}
