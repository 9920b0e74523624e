// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package restore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"
	"time"

	"baq.dev/pkg/manifest"
)

const modeFormatMask = syscall.S_IFMT

func isBlockDevice(mode uint32) bool {
	return mode&modeFormatMask == syscall.S_IFBLK
}

// finalizeMetadata runs once every data block has been restored: it
// creates whatever directories and empty files the manifest named but
// no data block ever touched, verifies every regular file and block
// device's whole-file checksum, and replays ownership, permissions, and
// timestamps. Files are fixed up before directories, and directories in
// reverse path order, so that creating or writing a file never clobbers
// its parent directory's already-restored mtime.
func finalizeMetadata(opts Options) error {
	idx := opts.Manifest

	var paths []string
	for path := range idx.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fe := idx.Files[path]
		dest := opts.GetRestorePath(path)
		if err := finalizeFile(opts, dest, fe); err != nil {
			return fmt.Errorf("restore: finalizing %s: %w", dest, err)
		}
	}

	var dirPaths []string
	for path := range idx.Directories {
		dirPaths = append(dirPaths, path)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirPaths)))

	for _, path := range dirPaths {
		dr := idx.Directories[path]
		dest := opts.GetRestorePath(path)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("restore: creating directory %s: %w", dest, err)
		}
		applyInodeMetadata(opts, dest, dr.Inode)
	}

	return nil
}

func finalizeFile(opts Options, dest string, fe manifest.FileEntry) error {
	if isBlockDevice(fe.Mode) {
		return verifyWholeFileSHA1(dest, fe.Summary.SHA1)
	}

	if fe.Summary.Size == 0 && len(fe.Blocks) == 0 {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := ensureParentDir(dest); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("creating empty file: %w", err)
			}
			f.Close()
		}
	}

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("statting restored file: %w", err)
	}
	if info.Size() > fe.Summary.Size {
		if err := os.Truncate(dest, fe.Summary.Size); err != nil {
			return fmt.Errorf("truncating to original size: %w", err)
		}
	}
	info, err = os.Stat(dest)
	if err != nil {
		return err
	}
	if info.Size() != fe.Summary.Size {
		return fmt.Errorf("restored size %d, want %d", info.Size(), fe.Summary.Size)
	}

	if err := verifyWholeFileSHA1(dest, fe.Summary.SHA1); err != nil {
		return err
	}

	applyInodeMetadata(opts, dest, fe.Inode)
	return nil
}

func verifyWholeFileSHA1(dest, want string) error {
	f, err := os.Open(dest)
	if err != nil {
		return fmt.Errorf("opening for checksum verification: %w", err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hashing restored file: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("sha1 mismatch: got %s, want %s", got, want)
	}
	return nil
}

// applyInodeMetadata replays ownership, permission bits, and timestamps
// recorded for inode onto dest. A chown failure is logged, not returned,
// since it commonly happens when restoring without root privileges.
func applyInodeMetadata(opts Options, dest string, inode manifest.Inode) {
	if err := os.Chown(dest, inode.UID, inode.GID); err != nil {
		logf(opts.Log, "restore: %s: chown failed (expected unless restoring as root): %v", dest, err)
	}
	if err := os.Chmod(dest, os.FileMode(inode.Mode&0o7777)); err != nil {
		logf(opts.Log, "restore: %s: chmod failed: %v", dest, err)
	}
	atime := time.Unix(0, inode.AtimeNS)
	mtime := time.Unix(0, inode.MtimeNS)
	if err := os.Chtimes(dest, atime, mtime); err != nil {
		logf(opts.Log, "restore: %s: setting timestamps failed: %v", dest, err)
	}
}
