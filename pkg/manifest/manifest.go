// Copyright 2012 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package manifest defines the line-delimited, gzip-compressed record
// format written while a backup runs and read back when planning a
// restore or seeding the dedup index from a prior backup. A manifest is
// a gzip stream of newline-terminated JSON objects; the first line is
// always a header record, every subsequent line is a directory, file,
// file_data, or file_summary record. A file record is always
// immediately followed by zero or more file_data records and exactly
// one file_summary record, mirroring the order blocks are discovered
// and stored while walking that file.
package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"baq.dev/pkg/blockcrypto"
)

// FormatVersion is the only manifest format this package knows how to
// read or write.
const FormatVersion = 1

// Header is the first record of every manifest.
type Header struct {
	FormatVersion int    `json:"format_version"`
	BackupID      string `json:"backup_id"`
	BlockSize     int64  `json:"block_size"`
	// SingleFile is true when the backup covers a single file or block
	// device rather than a directory tree; it tells the restore planner
	// whether the destination path names a single object to recreate or
	// a directory to populate.
	SingleFile bool `json:"single_file"`
}

// Inode carries the filesystem metadata common to directory and file
// records. Owner/Group are empty when the uid/gid could not be resolved
// to a name at backup time.
type Inode struct {
	Path    string
	MtimeNS int64
	AtimeNS int64
	CtimeNS int64
	UID     int
	GID     int
	Mode    uint32
	Owner   string
	Group   string
}

// inodeWire is Inode's wire shape: st_mode is an octal string ("0o100644"),
// matching oct(st.st_mode)/int(x, 8) in the original metadata format,
// rather than a native JSON number.
type inodeWire struct {
	Path    string `json:"path"`
	MtimeNS int64  `json:"st_mtime_ns"`
	AtimeNS int64  `json:"st_atime_ns"`
	CtimeNS int64  `json:"st_ctime_ns"`
	UID     int    `json:"st_uid"`
	GID     int    `json:"st_gid"`
	Mode    string `json:"st_mode"`
	Owner   string `json:"owner,omitempty"`
	Group   string `json:"group,omitempty"`
}

// MarshalJSON renders Mode as an octal string instead of a JSON number.
func (i Inode) MarshalJSON() ([]byte, error) {
	return json.Marshal(inodeWire{
		Path:    i.Path,
		MtimeNS: i.MtimeNS,
		AtimeNS: i.AtimeNS,
		CtimeNS: i.CtimeNS,
		UID:     i.UID,
		GID:     i.GID,
		Mode:    "0o" + strconv.FormatUint(uint64(i.Mode), 8),
		Owner:   i.Owner,
		Group:   i.Group,
	})
}

// UnmarshalJSON parses Mode back out of its octal string, accepting an
// optional "0o"/"0O" prefix.
func (i *Inode) UnmarshalJSON(data []byte) error {
	var w inodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	mode, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(w.Mode, "0o"), "0O"), 8, 32)
	if err != nil {
		return fmt.Errorf("manifest: invalid st_mode %q: %w", w.Mode, err)
	}
	*i = Inode{
		Path:    w.Path,
		MtimeNS: w.MtimeNS,
		AtimeNS: w.AtimeNS,
		CtimeNS: w.CtimeNS,
		UID:     w.UID,
		GID:     w.GID,
		Mode:    uint32(mode),
		Owner:   w.Owner,
		Group:   w.Group,
	}
	return nil
}

// DirectoryRecord describes one directory encountered while walking the
// backed-up tree.
type DirectoryRecord struct {
	Inode
}

// FileRecord describes one regular file or (in single-file mode) block
// device, before any of its file_data records.
type FileRecord struct {
	Inode
}

// FileDataRecord describes one block belonging to the file record that
// precedes it: where it lives in the original file, its content address
// and per-file key, and where its encrypted bytes were stored.
type FileDataRecord struct {
	Offset      int64             `json:"offset"`
	Size        int64             `json:"size"`
	SHA3        blockcrypto.BlockID `json:"-"`
	SHA3Hex     string            `json:"sha3"`
	AESKey      blockcrypto.Key   `json:"-"`
	AESKeyHex   string            `json:"aes_key"`
	StoreFile   string            `json:"store_file"`
	StoreOffset int64             `json:"store_offset"`
	StoreSize   int64             `json:"store_size"`
}

// FileSummaryRecord closes out a file's run of file_data records with
// its whole-file integrity hash and compression statistics.
type FileSummaryRecord struct {
	Size             int64   `json:"size"`
	CompressedSize   int64   `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
	SHA1             string  `json:"sha1"`
}

// record is the on-the-wire envelope: exactly one of these fields is
// set per line.
type record struct {
	BaqBackup   *Header            `json:"baq_backup,omitempty"`
	Directory   *DirectoryRecord   `json:"directory,omitempty"`
	File        *FileRecord        `json:"file,omitempty"`
	FileData    *fileDataWire      `json:"file_data,omitempty"`
	FileSummary *FileSummaryRecord `json:"file_summary,omitempty"`
}

// fileDataWire is FileDataRecord with the binary fields pre-rendered to
// hex so encoding/json never sees a [64]byte/[32]byte array.
type fileDataWire struct {
	Offset      int64  `json:"offset"`
	Size        int64  `json:"size"`
	SHA3        string `json:"sha3"`
	AESKey      string `json:"aes_key"`
	StoreFile   string `json:"store_file"`
	StoreOffset int64  `json:"store_offset"`
	StoreSize   int64  `json:"store_size"`
}

func toWire(fd FileDataRecord) *fileDataWire {
	return &fileDataWire{
		Offset:      fd.Offset,
		Size:        fd.Size,
		SHA3:        fd.SHA3.Hex(),
		AESKey:      fd.AESKey.Hex(),
		StoreFile:   fd.StoreFile,
		StoreOffset: fd.StoreOffset,
		StoreSize:   fd.StoreSize,
	}
}

func fromWire(w *fileDataWire) (FileDataRecord, error) {
	fd := FileDataRecord{
		Offset:      w.Offset,
		Size:        w.Size,
		SHA3Hex:     w.SHA3,
		AESKeyHex:   w.AESKey,
		StoreFile:   w.StoreFile,
		StoreOffset: w.StoreOffset,
		StoreSize:   w.StoreSize,
	}
	id, err := blockcrypto.ParseBlockID(w.SHA3)
	if err != nil {
		return fd, err
	}
	key, err := blockcrypto.ParseKey(w.AESKey)
	if err != nil {
		return fd, err
	}
	fd.SHA3, fd.AESKey = id, key
	return fd, nil
}
