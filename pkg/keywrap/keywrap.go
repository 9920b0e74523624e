// Copyright 2021 The age Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package keywrap optionally encrypts the locally cached copy of a
// backup's manifest, using filippo.io/age rather than gpg2: the cache is
// a purely local optimization (it only ever seeds the dedup index for
// the next backup of the same destination), so it does not need a
// shared-recipient GPG workflow, just a private key living on the
// machine that runs backups.
package keywrap

import "io"

// Wrapper wraps and unwraps a stream. dedupcache.New accepts a nil
// Wrapper and substitutes Passthrough, which passes bytes through
// unchanged, to make wrapping optional without every caller branching
// on whether it's configured.
type Wrapper interface {
	WrapWriter(dst io.Writer) (io.WriteCloser, error)
	UnwrapReader(src io.Reader) (io.Reader, error)
}
