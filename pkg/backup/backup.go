// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package backup implements the top-level backup driver: it walks a
// local directory (or backs up a single file/block device), writes a
// manifest describing every directory and file it finds, and stores
// every not-yet-seen block's encrypted bytes through a data-file
// collector. Ported from the original do_backup/backup_file_contents
// pair, split here into this file (the tree walk) and pipeline.go (the
// concurrent per-file block pipeline).
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"baq.dev/internal/fsutil"
	"baq.dev/pkg/config"
	"baq.dev/pkg/datafile"
	"baq.dev/pkg/dedupcache"
	"baq.dev/pkg/envelope"
	"baq.dev/pkg/manifest"
	"baq.dev/pkg/objectstore"
)

// Options configures one backup run.
type Options struct {
	LocalPath         string
	Store             objectstore.Store
	KeyPrefix         string
	StorageClass      objectstore.StorageClass
	DestinationURL    string // used only in log messages; Cache is already keyed by it
	EncryptionRecipients []string
	Envelope          envelope.Envelope
	Cache             *dedupcache.Cache
	Config            config.Config
	Log               *log.Logger
}

// Result summarizes a completed backup.
type Result struct {
	BackupID     string
	FilesBacked  int
	NewBlocks    int
	ReusedBlocks int
}

// Run performs one full backup according to opts.
func Run(ctx context.Context, opts Options) (Result, error) {
	var result Result

	rootInfo, err := os.Lstat(opts.LocalPath)
	if err != nil {
		return result, fmt.Errorf("backup: %w", err)
	}

	singleFile, err := classifyRoot(rootInfo)
	if err != nil {
		return result, err
	}

	tempDir, err := os.MkdirTemp("", "baq.")
	if err != nil {
		return result, fmt.Errorf("backup: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	prevIndex, blockSize := loadPreviousManifest(opts.Cache, opts.Config.BlockSize, opts.Log)
	dedup := NewDedupIndex()
	if prevIndex != nil {
		dedup = SeedDedupIndex(prevIndex)
	}

	backupID := time.Now().UTC().Format("20060102T150405Z")
	result.BackupID = backupID
	logf(opts.Log, "Backing up %s to %s", opts.LocalPath, opts.DestinationURL)

	tempMetaPath := filepath.Join(tempDir, "meta.wip")
	metaFile, err := os.Create(tempMetaPath)
	if err != nil {
		return result, fmt.Errorf("backup: creating manifest temp file: %w", err)
	}

	mw := manifest.NewWriter(metaFile)
	collector := datafile.NewCollector(opts.Store, backupID, opts.KeyPrefix, opts.StorageClass)

	if err := mw.WriteHeader(manifest.Header{
		BackupID:   backupID,
		BlockSize:  blockSize,
		SingleFile: singleFile,
	}); err != nil {
		collector.Abort()
		metaFile.Close()
		return result, err
	}

	walkErr := walkAndBackup(ctx, opts, singleFile, rootInfo, mw, collector, dedup, blockSize, &result, opts.Log)
	if walkErr != nil {
		collector.Abort()
		mw.Close()
		metaFile.Close()
		return result, walkErr
	}

	if err := collector.Close(); err != nil {
		mw.Close()
		metaFile.Close()
		return result, fmt.Errorf("backup: finishing data files: %w", err)
	}
	if err := mw.Close(); err != nil {
		metaFile.Close()
		return result, fmt.Errorf("backup: finishing manifest: %w", err)
	}
	if err := metaFile.Close(); err != nil {
		return result, fmt.Errorf("backup: closing manifest temp file: %w", err)
	}

	tempMetaEncPath := filepath.Join(tempDir, "meta.wip.gpg")
	if err := opts.Envelope.Encrypt(ctx, tempMetaPath, tempMetaEncPath, opts.EncryptionRecipients); err != nil {
		return result, fmt.Errorf("backup: encrypting manifest: %w", err)
	}
	encFile, err := os.Open(tempMetaEncPath)
	if err != nil {
		return result, fmt.Errorf("backup: reopening encrypted manifest: %w", err)
	}
	defer encFile.Close()
	fi, err := encFile.Stat()
	if err != nil {
		return result, fmt.Errorf("backup: stat encrypted manifest: %w", err)
	}
	metaName := fmt.Sprintf("baq.%s.meta", backupID)
	if err := opts.Store.PutObject(ctx, opts.KeyPrefix+metaName, encFile, fi.Size(), opts.StorageClass); err != nil {
		return result, fmt.Errorf("backup: uploading manifest: %w", err)
	}

	if opts.Cache != nil {
		if f, err := os.Open(tempMetaPath); err == nil {
			if err := opts.Cache.Store(f); err != nil && opts.Log != nil {
				opts.Log.Printf("backup: could not update dedup cache: %v", err)
			}
			f.Close()
		}
	}

	return result, nil
}

func loadPreviousManifest(cache *dedupcache.Cache, defaultBlockSize int64, logger *log.Logger) (*manifest.Index, int64) {
	if cache == nil {
		return nil, defaultBlockSize
	}
	idx, err := cache.Load()
	if err != nil {
		if logger != nil && err != dedupcache.ErrNoCache {
			logger.Printf("backup: could not load dedup cache: %v", err)
		}
		return nil, defaultBlockSize
	}
	return idx, idx.Header.BlockSize
}

func classifyRoot(info fs.FileInfo) (singleFile bool, err error) {
	mode := info.Mode()
	switch {
	case mode.IsRegular(), isBlockDevice(mode):
		return true, nil
	case mode.IsDir():
		return false, nil
	default:
		return false, fmt.Errorf("backup: unsupported root file type: %s", mode)
	}
}

func isBlockDevice(mode fs.FileMode) bool {
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

func isCharDevice(mode fs.FileMode) bool { return mode&os.ModeCharDevice != 0 }

// walkAndBackup writes the directory/file metadata records and drives
// backupFile for every regular file or (single-file mode) block device
// under the root.
func walkAndBackup(ctx context.Context, opts Options, singleFile bool, rootInfo fs.FileInfo, mw *manifest.Writer, collector *datafile.Collector, dedup *DedupIndex, blockSize int64, result *Result, logger *log.Logger) error {
	if singleFile {
		return backupOnePath(ctx, opts, opts.LocalPath, filepath.Base(opts.LocalPath), singleFile, mw, collector, dedup, blockSize, result, logger)
	}

	paths, err := sortedTreePaths(opts.LocalPath)
	if err != nil {
		return err
	}
	for _, p := range paths {
		rel, err := filepath.Rel(opts.LocalPath, p)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		if err := backupOnePath(ctx, opts, p, rel, singleFile, mw, collector, dedup, blockSize, result, logger); err != nil {
			return err
		}
	}
	return nil
}

// sortedTreePaths lists every entry under root (excluding root itself),
// in a stable order so repeated backups of an unchanged tree produce
// manifests that differ only where the tree actually changed.
func sortedTreePaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backup: walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func backupOnePath(ctx context.Context, opts Options, path, relPath string, singleFile bool, mw *manifest.Writer, collector *datafile.Collector, dedup *DedupIndex, blockSize int64, result *Result, logger *log.Logger) error {
	lst, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	mode := lst.Mode()

	switch {
	case mode&os.ModeNamedPipe != 0:
		logf(logger, "Skipping %s - unsupported file type (fifo)", relPath)
		return nil
	case mode&os.ModeSocket != 0:
		logf(logger, "Skipping %s - unsupported file type (socket)", relPath)
		return nil
	case isCharDevice(mode):
		logf(logger, "Skipping %s - unsupported file type (char device)", relPath)
		return nil
	}

	info := lst
	if mode&os.ModeSymlink != 0 {
		logf(logger, "Dereferencing symlink %s", relPath)
		info, err = os.Stat(path)
		if err != nil {
			return fmt.Errorf("backup: resolving symlink %s: %w", relPath, err)
		}
	}
	mode = info.Mode()

	switch {
	case mode.IsDir():
		return writeDirectoryRecord(mw, path, relPath)
	case isBlockDevice(mode):
		if !singleFile {
			logf(logger, "Skipping %s - unsupported file type (block device)", relPath)
			return nil
		}
		if err := writeFileRecord(mw, path, relPath); err != nil {
			return err
		}
		return backupFileAndSummary(ctx, opts, path, relPath, mw, collector, dedup, blockSize, result)
	case mode.IsRegular():
		if err := writeFileRecord(mw, path, relPath); err != nil {
			return err
		}
		beforeMtime, beforeSize := info.ModTime(), info.Size()
		if err := backupFileAndSummary(ctx, opts, path, relPath, mw, collector, dedup, blockSize, result); err != nil {
			return err
		}
		if after, err := os.Stat(path); err == nil {
			if !after.ModTime().Equal(beforeMtime) || after.Size() != beforeSize {
				logf(logger, "File has changed while being backed up: %s", path)
			}
		}
		return nil
	default:
		logf(logger, "Skipping %s - unsupported file type", relPath)
		return nil
	}
}

func backupFileAndSummary(ctx context.Context, opts Options, path, relPath string, mw *manifest.Writer, collector *datafile.Collector, dedup *DedupIndex, blockSize int64, result *Result) error {
	summary, err := backupFile(ctx, path, mw, collector, dedup, blockSize, opts.Config.WorkerCount)
	if err != nil {
		return fmt.Errorf("backup: %s: %w", relPath, err)
	}
	ratio := 0.0
	if summary.BytesRead > 0 {
		ratio = float64(summary.CompressedSize) / float64(summary.BytesRead)
	}
	if err := mw.WriteFileSummary(manifest.FileSummaryRecord{
		Size:             summary.BytesRead,
		CompressedSize:   summary.CompressedSize,
		CompressionRatio: ratio,
		SHA1:             summary.SHA1Hex,
	}); err != nil {
		return err
	}
	result.FilesBacked++
	result.NewBlocks += summary.NewBlocks
	result.ReusedBlocks += summary.ReusedBlocks
	return nil
}

func writeDirectoryRecord(mw *manifest.Writer, path, relPath string) error {
	inode, err := inodeFor(path, relPath)
	if err != nil {
		return err
	}
	return mw.WriteDirectory(manifest.DirectoryRecord{Inode: inode})
}

func writeFileRecord(mw *manifest.Writer, path, relPath string) error {
	inode, err := inodeFor(path, relPath)
	if err != nil {
		return err
	}
	return mw.WriteFile(manifest.FileRecord{Inode: inode})
}

func inodeFor(path, relPath string) (manifest.Inode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return manifest.Inode{}, fmt.Errorf("backup: %w", err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return manifest.Inode{Path: relPath, Mode: uint32(info.Mode())}, nil
	}
	s := fsutil.FromSysStat(st)
	return manifest.Inode{
		Path:    relPath,
		MtimeNS: s.MtimeNS,
		AtimeNS: s.AtimeNS,
		CtimeNS: s.CtimeNS,
		UID:     s.UID,
		GID:     s.GID,
		Mode:    s.Mode,
		Owner:   s.Owner,
		Group:   s.Group,
	}, nil
}

func logf(logger *log.Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
