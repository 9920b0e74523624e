// Copyright 2012 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package manifest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer appends manifest records to an underlying writer as a gzip
// stream of newline-delimited JSON. Write methods may be called
// concurrently from multiple goroutines; each call writes exactly one
// complete line. WriteHeader must be called exactly once, before any
// other Write method.
type Writer struct {
	mu  sync.Mutex
	gz  *gzip.Writer
	enc *json.Encoder
	err error
}

// NewWriter wraps w with gzip compression and begins a new manifest.
func NewWriter(w io.Writer) *Writer {
	gz := gzip.NewWriter(w)
	return &Writer{gz: gz, enc: json.NewEncoder(gz)}
}

func (w *Writer) writeRecord(r record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if err := w.enc.Encode(r); err != nil {
		w.err = fmt.Errorf("manifest: writing record: %w", err)
		return w.err
	}
	return nil
}

// WriteHeader writes the manifest's header record.
func (w *Writer) WriteHeader(h Header) error {
	h.FormatVersion = FormatVersion
	return w.writeRecord(record{BaqBackup: &h})
}

// WriteDirectory writes one directory record.
func (w *Writer) WriteDirectory(d DirectoryRecord) error {
	return w.writeRecord(record{Directory: &d})
}

// WriteFile writes one file record, expected to be followed by that
// file's FileData and FileSummary records.
func (w *Writer) WriteFile(f FileRecord) error {
	return w.writeRecord(record{File: &f})
}

// WriteFileData writes one block belonging to the most recently written
// file record.
func (w *Writer) WriteFileData(fd FileDataRecord) error {
	return w.writeRecord(record{FileData: toWire(fd)})
}

// WriteFileSummary closes out the most recently written file record.
func (w *Writer) WriteFileSummary(fs FileSummaryRecord) error {
	return w.writeRecord(record{FileSummary: &fs})
}

// Close flushes the gzip stream. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	return w.gz.Close()
}
