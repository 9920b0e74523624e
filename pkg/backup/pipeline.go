// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"baq.dev/pkg/blockcrypto"
	"baq.dev/pkg/datafile"
	"baq.dev/pkg/manifest"
)

// zstdCompressionLevel matches the zstd level the original backup tool
// has always compressed blocks at.
const zstdCompressionLevel = 9

var zstdLevel = zstd.EncoderLevelFromZstd(zstdCompressionLevel)

// pendingBlock threads one block's raw bytes and offset from the reader
// stage to the store stage, with a one-shot result channel the
// compress+encrypt stage fills in — the same role Python's SimpleFuture
// plays in backup_file_contents, expressed as a buffered channel instead
// of a condition-variable-backed future object.
type pendingBlock struct {
	offset int64
	raw    []byte
	result chan blockResult
}

type blockResult struct {
	reused    bool
	loc       StoredLocation
	blockID   blockcrypto.BlockID
	encrypted []byte
	err       error
}

// fileSummary is what backupFile reports once a file has been fully
// processed, everything FileSummaryRecord needs plus bookkeeping the
// caller logs.
type fileSummary struct {
	BytesRead      int64
	CompressedSize int64
	SHA1Hex        string
	NewBlocks      int
	ReusedBlocks   int
}

// backupFile reads path in blockSize chunks, deduplicates each block
// against dedup, writes a file_data manifest record for each block
// through w, and returns the summary its caller writes as the file's
// file_summary record. It runs four concurrent stages connected by channels:
// one reader, one whole-file hasher, workerCount compress+encrypt
// workers, and one (order-preserving) store writer, matching the
// original's read/whole_file_hash/compress_and_encrypt/store thread
// split.
func backupFile(ctx context.Context, path string, w *manifest.Writer, collector *datafile.Collector, dedup *DedupIndex, blockSize int64, workerCount int) (fileSummary, error) {
	fileKey, err := blockcrypto.NewKey()
	if err != nil {
		return fileSummary{}, err
	}

	wfhashCh := make(chan []byte, 10)
	encryptCh := make(chan *pendingBlock, workerCount+10)
	storeCh := make(chan *pendingBlock, workerCount+10)

	g, ctx := errgroup.WithContext(ctx)

	var bytesRead int64
	g.Go(func() error {
		defer close(wfhashCh)
		defer close(encryptCh)
		defer close(storeCh)
		n, err := readBlocks(ctx, path, blockSize, wfhashCh, encryptCh, storeCh)
		bytesRead = n
		return err
	})

	var sha1Hex string
	g.Go(func() error {
		h := blockcrypto.NewSHA1Hasher()
		for raw := range wfhashCh {
			h.Write(raw)
		}
		sha1Hex = h.HexDigest()
		return nil
	})

	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
			if err != nil {
				return fmt.Errorf("backup: creating zstd encoder: %w", err)
			}
			defer enc.Close()
			for pb := range encryptCh {
				pb.result <- encryptBlock(dedup, fileKey, pb.raw, enc)
			}
			return nil
		})
	}

	var newBlocks, reusedBlocks int
	var compressedSize int64
	g.Go(func() error {
		for pb := range storeCh {
			res := <-pb.result
			if res.err != nil {
				return res.err
			}
			if res.reused {
				reusedBlocks++
				compressedSize += res.loc.Size
				if err := w.WriteFileData(manifest.FileDataRecord{
					Offset: pb.offset, Size: int64(len(pb.raw)),
					SHA3: res.blockID, AESKey: res.loc.AESKey,
					StoreFile: res.loc.DataFileName, StoreOffset: res.loc.Offset, StoreSize: res.loc.Size,
				}); err != nil {
					return err
				}
				continue
			}
			loc, err := collector.StoreBlock(ctx, res.encrypted)
			if err != nil {
				return fmt.Errorf("backup: storing block: %w", err)
			}
			stored := StoredLocation{DataFileName: loc.DataFileName, Offset: loc.Offset, Size: int64(len(res.encrypted)), AESKey: fileKey}
			dedup.Put(res.blockID, stored)
			newBlocks++
			compressedSize += stored.Size
			if err := w.WriteFileData(manifest.FileDataRecord{
				Offset: pb.offset, Size: int64(len(pb.raw)),
				SHA3: res.blockID, AESKey: fileKey,
				StoreFile: stored.DataFileName, StoreOffset: stored.Offset, StoreSize: stored.Size,
			}); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fileSummary{}, err
	}

	return fileSummary{
		BytesRead:      bytesRead,
		CompressedSize: compressedSize,
		SHA1Hex:        sha1Hex,
		NewBlocks:      newBlocks,
		ReusedBlocks:   reusedBlocks,
	}, nil
}

// readBlocks drives the reader stage: it owns the only read cursor into
// path, and fans each block out to the hash, encrypt, and store stages
// before reading the next one.
func readBlocks(ctx context.Context, path string, blockSize int64, wfhashCh chan<- []byte, encryptCh, storeCh chan<- *pendingBlock) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("backup: opening %s: %w", path, err)
	}
	defer f.Close()

	var bytesRead int64
	var offset int64
	buf := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return bytesRead, fmt.Errorf("backup: reading %s: %w", path, err)
			}
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return bytesRead, fmt.Errorf("backup: reading %s: %w", path, err)
		}
		raw := append([]byte(nil), buf[:n]...)
		bytesRead += int64(n)

		pb := &pendingBlock{offset: offset, raw: raw, result: make(chan blockResult, 1)}
		offset += int64(n)

		select {
		case wfhashCh <- raw:
		case <-ctx.Done():
			return bytesRead, ctx.Err()
		}
		select {
		case encryptCh <- pb:
		case <-ctx.Done():
			return bytesRead, ctx.Err()
		}
		select {
		case storeCh <- pb:
		case <-ctx.Done():
			return bytesRead, ctx.Err()
		}

		if n < int(blockSize) {
			break
		}
	}
	return bytesRead, nil
}

// encryptBlock computes a block's content address and either reuses an
// already-stored copy (from the prior backup's manifest or from earlier
// in the current one) or compresses and encrypts it fresh.
func encryptBlock(dedup *DedupIndex, fileKey blockcrypto.Key, raw []byte, enc *zstd.Encoder) blockResult {
	id := blockcrypto.SumBlockID(raw)
	if loc, ok := dedup.Get(id); ok {
		return blockResult{reused: true, loc: loc, blockID: id}
	}
	compressed := enc.EncodeAll(raw, nil)
	encrypted, err := blockcrypto.Encrypt(compressed, fileKey)
	if err != nil {
		return blockResult{err: fmt.Errorf("backup: encrypting block: %w", err)}
	}
	return blockResult{reused: false, blockID: id, encrypted: encrypted}
}
