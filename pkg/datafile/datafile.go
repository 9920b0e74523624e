// Copyright 2012 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package datafile aggregates many small encrypted blocks into a
// sequence of large objects ("data files") in an objectstore.Store,
// so that a backup made of millions of deduplicated blocks produces a
// manageable number of remote objects instead of one object per block.
//
// Each data file is written through a multipart upload state machine
// (creating -> open -> closing -> completed, or aborted on failure),
// driven by three fixed-size worker pools shared across every data file
// a Collector opens: one worker to create multipart uploads, eight to
// upload parts, and one to complete or abort them. Writing to a data
// file blocks while three of its parts are queued and not yet picked up
// by an upload worker, so a slow backend cannot make the backlog of
// buffered parts grow without bound.
package datafile

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"sync"

	"baq.dev/internal/chanworker"
	"baq.dev/pkg/objectstore"
	"baq.dev/pkg/pools"
)

// DataFileSize is the default size at which a data file is closed and a
// new one started.
const DataFileSize = 100 << 30

// PartSize is the default size of one multipart upload part.
const PartSize = 100 << 20

// MaxInFlightParts bounds how many of a single file's parts may be
// queued for upload without an upload worker having started them;
// write blocks once this many are queued.
const MaxInFlightParts = 3

// Location identifies where a stored block landed.
type Location struct {
	DataFileName string
	Offset       int64
}

// Collector accumulates blocks into a sequence of data files. It is safe
// for StoreBlock to be called repeatedly from a single goroutine; the
// underlying upload machinery runs concurrently in the background.
type Collector struct {
	store        objectstore.Store
	backupID     string
	keyPrefix    string
	class        objectstore.StorageClass
	dataFileSize int64
	partSize     int64

	createPool chan<- interface{}
	uploadPool chan<- interface{}
	finishPool chan<- interface{}

	mu          sync.Mutex
	fileNumber  int
	current     *File
	allFiles    []*File
}

// submitFunc adapts chanworker's (interface{}, bool) callback convention
// to plain func() closures, so the pools behave like the fixed-size
// thread pools they are grounded on.
func submitFunc() func(el interface{}, ok bool) {
	return func(el interface{}, ok bool) {
		if ok {
			el.(func())()
		}
	}
}

// NewCollector returns a Collector that writes blocks as data files
// named "baq.<backupID>.data-NNNNNN" under keyPrefix in store.
func NewCollector(store objectstore.Store, backupID, keyPrefix string, class objectstore.StorageClass) *Collector {
	return &Collector{
		store:        store,
		backupID:     backupID,
		keyPrefix:    keyPrefix,
		class:        class,
		dataFileSize: DataFileSize,
		partSize:     PartSize,
		createPool:   chanworker.NewWorker(1, submitFunc()),
		uploadPool:   chanworker.NewWorker(8, submitFunc()),
		finishPool:   chanworker.NewWorker(1, submitFunc()),
	}
}

// StoreBlock writes data to the collector's current data file and
// returns the data file name and byte offset the block was written at.
// A new data file is opened if none is open or if data would grow a
// non-empty current file past dataFileSize; a file that reaches
// dataFileSize is closed right after the write.
func (c *Collector) StoreBlock(ctx context.Context, data []byte) (Location, error) {
	c.mu.Lock()
	if c.current != nil {
		if off := c.current.tell(); off > 0 && off+int64(len(data)) > c.dataFileSize {
			c.current.close()
			c.current = nil
		}
	}
	if c.current == nil {
		name := fmt.Sprintf("baq.%s.data-%06d", c.backupID, c.fileNumber)
		c.fileNumber++
		c.current = newFile(ctx, c.store, c.keyPrefix+name, name, c.class, c.partSize, c.createPool, c.uploadPool, c.finishPool)
		c.allFiles = append(c.allFiles, c.current)
	}
	f := c.current
	loc := Location{DataFileName: f.name, Offset: f.tell()}
	f.write(data)
	closeNow := loc.Offset+int64(len(data)) >= c.dataFileSize
	if closeNow {
		c.current = nil
	}
	c.mu.Unlock()

	if closeNow {
		f.close()
	}
	return loc, nil
}

// Close finishes every data file the collector has opened (including
// the currently-open one, if any) and shuts down its worker pools. It
// returns the first error encountered completing any data file.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.current != nil {
		c.current.close()
		c.current = nil
	}
	files := c.allFiles
	c.mu.Unlock()

	var firstErr error
	for _, f := range files {
		if err := f.wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(c.createPool)
	close(c.uploadPool)
	close(c.finishPool)
	return firstErr
}

// Abort cancels every in-progress data file without completing them,
// releasing any server-side multipart uploads. Used when the surrounding
// backup fails partway through.
func (c *Collector) Abort() {
	c.mu.Lock()
	files := c.allFiles
	c.current = nil
	c.mu.Unlock()

	for _, f := range files {
		f.abort()
	}
	for _, f := range files {
		f.wait()
	}
	close(c.createPool)
	close(c.uploadPool)
	close(c.finishPool)
}

// State is one stage of a data file's multipart upload lifecycle.
type State int

const (
	StateCreating State = iota
	StateOpen
	StateClosing
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type partFuture struct {
	done  chan struct{}
	etag  string
	sha1  [20]byte
	err   error
}

func (f *partFuture) wait() error {
	<-f.done
	return f.err
}

// File drives one data file's multipart upload. All exported behavior is
// reached through Collector; File itself holds the mutex-guarded state.
type File struct {
	ctx   context.Context
	store objectstore.Store
	key   string
	name  string
	class objectstore.StorageClass
	part  int64

	createPool chan<- interface{}
	uploadPool chan<- interface{}
	finishPool chan<- interface{}

	createDone chan struct{}
	uploadID   string
	createErr  error

	mu      sync.Mutex
	state   State
	offset  int64
	buf     *bytes.Buffer
	parts   []*partFuture
	closeCh chan struct{}
	closeErr error

	waitMu      sync.Mutex
	waitCond    *sync.Cond
	waitingUploads int
}

func newFile(ctx context.Context, store objectstore.Store, key, name string, class objectstore.StorageClass, partSize int64, createPool, uploadPool, finishPool chan<- interface{}) *File {
	f := &File{
		ctx:        ctx,
		store:      store,
		key:        key,
		name:       name,
		class:      class,
		part:       partSize,
		createPool: createPool,
		uploadPool: uploadPool,
		finishPool: finishPool,
		createDone: make(chan struct{}),
		closeCh:    make(chan struct{}),
		state:      StateCreating,
		buf:        pools.BytesBuffer(),
	}
	f.waitCond = sync.NewCond(&f.waitMu)
	f.createPool <- func() {
		uploadID, err := store.CreateMultipart(ctx, key, class)
		f.mu.Lock()
		f.uploadID, f.createErr = uploadID, err
		if err == nil {
			f.state = StateOpen
		}
		f.mu.Unlock()
		close(f.createDone)
	}
	return f
}

func (f *File) tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// write appends data to the file's in-memory part buffer, blocking the
// caller while three of the file's parts are queued and not yet picked
// up by an upload worker, so an unbounded backlog of buffered parts can
// never build up.
func (f *File) write(data []byte) {
	f.waitMu.Lock()
	for f.waitingUploads >= MaxInFlightParts {
		f.waitCond.Wait()
	}
	f.waitMu.Unlock()

	f.mu.Lock()
	f.buf.Write(data)
	f.offset += int64(len(data))
	if int64(f.buf.Len()) >= f.part {
		f.scheduleUpload()
	}
	f.mu.Unlock()
}

// scheduleUpload must be called with f.mu held.
func (f *File) scheduleUpload() {
	f.waitMu.Lock()
	f.waitingUploads++
	f.waitMu.Unlock()

	partNumber := len(f.parts) + 1
	data := append([]byte(nil), f.buf.Bytes()...)
	fut := &partFuture{done: make(chan struct{})}
	f.parts = append(f.parts, fut)
	f.buf.Reset()

	f.uploadPool <- func() {
		f.waitMu.Lock()
		f.waitingUploads--
		f.waitCond.Broadcast()
		f.waitMu.Unlock()

		<-f.createDone
		if f.createErr != nil {
			fut.err = fmt.Errorf("datafile: %s: part %d: upload aborted, create failed: %w", f.name, partNumber, f.createErr)
			close(fut.done)
			return
		}
		etag, sum, err := f.store.UploadPart(f.ctx, f.key, f.uploadID, partNumber, data)
		fut.etag, fut.sha1, fut.err = etag, sum, err
		if err != nil {
			fut.err = fmt.Errorf("datafile: %s: part %d: %w", f.name, partNumber, err)
		}
		close(fut.done)
	}
}

// close flushes any buffered bytes as a final part and schedules
// completion of the multipart upload. It does not block; call wait for
// the result.
func (f *File) close() {
	f.mu.Lock()
	if f.buf.Len() > 0 {
		f.scheduleUpload()
	}
	pools.PutBuffer(f.buf)
	f.buf = nil
	f.state = StateClosing
	parts := f.parts
	f.mu.Unlock()

	f.finishPool <- func() {
		<-f.createDone
		if f.createErr != nil {
			f.closeErr = fmt.Errorf("datafile: %s: %w", f.name, f.createErr)
			f.mu.Lock()
			f.state = StateAborted
			f.mu.Unlock()
			close(f.closeCh)
			return
		}
		completed := make([]objectstore.CompletedPart, 0, len(parts))
		var digests bytes.Buffer
		var firstErr error
		for i, p := range parts {
			if err := p.wait(); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			completed = append(completed, objectstore.CompletedPart{
				PartNumber: i + 1,
				ETag:       p.etag,
				SHA1:       p.sha1,
			})
			digests.Write(p.sha1[:])
		}
		if firstErr != nil {
			f.store.AbortMultipart(f.ctx, f.key, f.uploadID)
			f.closeErr = firstErr
			f.mu.Lock()
			f.state = StateAborted
			f.mu.Unlock()
			close(f.closeCh)
			return
		}
		aggregate := sha1.Sum(digests.Bytes())
		if err := f.store.CompleteMultipart(f.ctx, f.key, f.uploadID, completed, aggregate); err != nil {
			f.store.AbortMultipart(f.ctx, f.key, f.uploadID)
			f.closeErr = fmt.Errorf("datafile: %s: completing multipart upload: %w", f.name, err)
			f.mu.Lock()
			f.state = StateAborted
			f.mu.Unlock()
			close(f.closeCh)
			return
		}
		f.mu.Lock()
		f.state = StateCompleted
		f.mu.Unlock()
		close(f.closeCh)
	}
}

// abort cancels the file's multipart upload, if one was created, without
// completing it.
func (f *File) abort() {
	f.mu.Lock()
	alreadyClosing := f.state == StateClosing || f.state == StateCompleted || f.state == StateAborted
	if !alreadyClosing && f.buf != nil {
		pools.PutBuffer(f.buf)
		f.buf = nil
	}
	f.mu.Unlock()
	if alreadyClosing {
		return
	}
	f.finishPool <- func() {
		<-f.createDone
		if f.createErr == nil {
			f.store.AbortMultipart(f.ctx, f.key, f.uploadID)
		}
		f.mu.Lock()
		f.state = StateAborted
		f.mu.Unlock()
		close(f.closeCh)
	}
}

// wait blocks until the file has finished completing or aborting, and
// returns the resulting error, if any.
func (f *File) wait() error {
	<-f.closeCh
	return f.closeErr
}

// State reports the file's current lifecycle state.
func (f *File) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
