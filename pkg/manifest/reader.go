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
	"errors"
	"fmt"
	"io"

	"baq.dev/pkg/blockcrypto"
)

// Kind identifies which field of an Entry is populated.
type Kind int

const (
	KindDirectory Kind = iota
	KindFile
	KindFileData
	KindFileSummary
)

// Entry is one non-header manifest record.
type Entry struct {
	Kind        Kind
	Directory   *DirectoryRecord
	File        *FileRecord
	FileData    *FileDataRecord
	FileSummary *FileSummaryRecord
}

// Reader reads manifest records sequentially from a gzip-compressed,
// newline-delimited JSON stream. Reader does not itself enforce the
// file/file_data*/file_summary grouping invariant; Index does.
type Reader struct {
	gz     *gzip.Reader
	dec    *json.Decoder
	header Header
}

// NewReader opens r as a gzip stream and reads its header record.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: opening gzip stream: %w", err)
	}
	dec := json.NewDecoder(gz)
	var rec record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("manifest: reading header: %w", err)
	}
	if rec.BaqBackup == nil {
		return nil, errors.New("manifest: first record is not a header")
	}
	if rec.BaqBackup.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("manifest: unsupported format version %d", rec.BaqBackup.FormatVersion)
	}
	return &Reader{gz: gz, dec: dec, header: *rec.BaqBackup}, nil
}

// Header returns the manifest's header record.
func (r *Reader) Header() Header { return r.header }

// Next returns the next record, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Entry, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("manifest: reading record: %w", err)
	}
	switch {
	case rec.Directory != nil:
		return Entry{Kind: KindDirectory, Directory: rec.Directory}, nil
	case rec.File != nil:
		return Entry{Kind: KindFile, File: rec.File}, nil
	case rec.FileData != nil:
		fd, err := fromWire(rec.FileData)
		if err != nil {
			return Entry{}, fmt.Errorf("manifest: %w", err)
		}
		return Entry{Kind: KindFileData, FileData: &fd}, nil
	case rec.FileSummary != nil:
		return Entry{Kind: KindFileSummary, FileSummary: rec.FileSummary}, nil
	default:
		return Entry{}, errors.New("manifest: record with no recognized field")
	}
}

// Close releases the underlying gzip reader.
func (r *Reader) Close() error { return r.gz.Close() }

// FileEntry is one file record together with the blocks and summary
// that followed it in the manifest.
type FileEntry struct {
	FileRecord
	Blocks  []FileDataRecord
	Summary FileSummaryRecord
}

// Index is a fully materialized manifest, as kept in memory to seed the
// dedup index and plan a restore from a prior backup.
type Index struct {
	Header      Header
	Directories map[string]DirectoryRecord
	Files       map[string]FileEntry
	Blocks      map[blockcrypto.BlockID]FileDataRecord
}

// LoadIndex reads every record from r and builds an Index, validating
// that file records are always followed by zero or more file_data
// records and exactly one file_summary record.
func LoadIndex(r io.Reader) (*Index, error) {
	mr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer mr.Close()

	idx := &Index{
		Header:      mr.Header(),
		Directories: make(map[string]DirectoryRecord),
		Files:       make(map[string]FileEntry),
		Blocks:      make(map[blockcrypto.BlockID]FileDataRecord),
	}

	for {
		entry, err := mr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch entry.Kind {
		case KindDirectory:
			idx.Directories[entry.Directory.Path] = *entry.Directory
		case KindFile:
			fe, err := readFileGroup(mr, *entry.File)
			if err != nil {
				return nil, err
			}
			idx.Files[fe.Path] = fe
			for _, b := range fe.Blocks {
				idx.Blocks[b.SHA3] = b
			}
		default:
			return nil, fmt.Errorf("manifest: unexpected top-level record kind %d", entry.Kind)
		}
	}
	return idx, nil
}

// readFileGroup consumes the file_data*/file_summary records that
// follow a file record.
func readFileGroup(mr *Reader, f FileRecord) (FileEntry, error) {
	fe := FileEntry{FileRecord: f}
	for {
		entry, err := mr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fe, fmt.Errorf("manifest: file %q: manifest ended before file_summary", f.Path)
			}
			return fe, err
		}
		switch entry.Kind {
		case KindFileData:
			fe.Blocks = append(fe.Blocks, *entry.FileData)
		case KindFileSummary:
			fe.Summary = *entry.FileSummary
			return fe, nil
		default:
			return fe, fmt.Errorf("manifest: file %q: unexpected record kind %d inside file group", f.Path, entry.Kind)
		}
	}
}
