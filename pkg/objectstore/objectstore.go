// Copyright 2011 Google Inc.
// Copyright 2018 The Perkeep Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package objectstore defines the narrow remote-object interface the
// backup and restore pipelines depend on: whole-object put/get, ranged
// get (single and coalesced-multi-range), and multipart upload. Concrete
// implementations live in sibling files (S3, backed by aws-sdk-go) and in
// this package (Local, a directory-backed implementation used for tests
// and file:// destinations).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// StorageClass is the remote storage tier requested for an object.
// Only S3 interprets it; Local ignores it.
type StorageClass string

const (
	StorageClassStandard   StorageClass = "STANDARD"
	StorageClassStandardIA StorageClass = "STANDARD_IA"
)

// Range is a byte range request: bytes [Offset, Offset+Size).
type Range struct {
	Offset int64
	Size   int64
}

// CompletedPart describes one uploaded part, ready to be passed to
// CompleteMultipart.
type CompletedPart struct {
	PartNumber int
	ETag       string
	SHA1       [20]byte
}

// Store is the object-store backend the core pipeline depends on.
// Every method may fail; callers are responsible for mapping failures to
// abortable operations (see the data-file aggregator).
type Store interface {
	// PutObject uploads the entirety of r (size bytes long) as a single
	// object. Used only for the (small) final manifest.
	PutObject(ctx context.Context, name string, r io.Reader, size int64, class StorageClass) error

	// GetObject downloads the entirety of an object.
	GetObject(ctx context.Context, name string) (io.ReadCloser, error)

	// GetRange fetches exactly size bytes starting at offset. It is an
	// error for the backend to return fewer bytes.
	GetRange(ctx context.Context, name string, offset, size int64) ([]byte, error)

	// GetRanges fetches every byte range in ranges, which must already be
	// sorted by Offset, and returns their concatenated bytes as a single
	// stream in request order. Implementations should coalesce adjacent
	// ranges into as few underlying requests as possible.
	GetRanges(ctx context.Context, name string, ranges []Range) (io.ReadCloser, error)

	// List returns the names of all objects whose name has the given
	// prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// CreateMultipart begins a new multipart upload for name and returns
	// an opaque upload ID.
	CreateMultipart(ctx context.Context, name string, class StorageClass) (uploadID string, err error)

	// UploadPart uploads one part of a multipart upload. partNumber must
	// be in [1, 10000]. All parts except the last must be at least 5 MiB.
	UploadPart(ctx context.Context, name, uploadID string, partNumber int, data []byte) (etag string, sha1 [20]byte, err error)

	// CompleteMultipart finalizes a multipart upload given every
	// previously uploaded part (in ascending PartNumber order) and the
	// SHA-1 of the concatenation of the parts' SHA-1 digests.
	CompleteMultipart(ctx context.Context, name, uploadID string, parts []CompletedPart, aggregateSHA1 [20]byte) error

	// AbortMultipart cancels an in-progress multipart upload, releasing
	// any uploaded parts.
	AbortMultipart(ctx context.Context, name, uploadID string) error
}

// MinPartSize is the smallest a non-final multipart part may be.
const MinPartSize = 5 << 20

// MaxPartNumber is the largest part number a multipart upload may use.
const MaxPartNumber = 10000

// ErrInvalidPart is returned when a part number falls outside
// [1, MaxPartNumber].
var ErrInvalidPart = errors.New("objectstore: invalid part number")

func checkPartNumber(n int) error {
	if n < 1 || n > MaxPartNumber {
		return fmt.Errorf("%w: %d", ErrInvalidPart, n)
	}
	return nil
}

// ErrNotExist is returned by GetObject/GetRange when the named object
// does not exist.
var ErrNotExist = errors.New("objectstore: object does not exist")
