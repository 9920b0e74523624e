// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Command baq backs up and restores encrypted, deduplicated,
// incremental backups to a local directory or an S3 bucket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"baq.dev/pkg/backup"
	"baq.dev/pkg/baqlog"
	"baq.dev/pkg/buildinfo"
	"baq.dev/pkg/config"
	"baq.dev/pkg/dedupcache"
	"baq.dev/pkg/envelope"
	"baq.dev/pkg/keywrap"
	"baq.dev/pkg/objectstore"
	"baq.dev/pkg/restore"
)

// recipientList collects repeated -recipient flags into a slice.
type recipientList []string

func (r *recipientList) String() string { return fmt.Sprint([]string(*r)) }

func (r *recipientList) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  baq backup [flags] <local-path> <destination-url>
  baq restore [flags] <backup-url> <restore-path>
  baq version

destination-url is either s3://bucket/prefix or file:///absolute/path.

backup-url is the full path to a specific backup's manifest, e.g.
s3://bucket/prefix/baq.<backup-id>.meta or
file:///absolute/path/baq.<backup-id>.meta.

`)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "backup":
		os.Exit(runBackup(args))
	case "restore":
		os.Exit(runRestore(args))
	case "version":
		fmt.Println(buildinfo.Summary())
	default:
		usage()
		os.Exit(2)
	}
}

func runBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	var recipients recipientList
	fs.Var(&recipients, "recipient", "GPG recipient to encrypt the manifest for (repeatable)")
	storageClass := fs.String("s3-storage-class", string(objectstore.StorageClassStandardIA), "S3 storage class for uploaded data (STANDARD or STANDARD_IA)")
	gpgBinary := fs.String("gpg-binary", "gpg2", "gpg binary to shell out to for manifest encryption")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "backup: expected <local-path> <destination-url>")
		return 2
	}
	localPath, destURL := fs.Arg(0), fs.Arg(1)

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "baq:", err)
		return 1
	}
	logger, logCloser, err := baqlog.New(cfg.LogFile, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "baq:", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	store, keyPrefix, err := openDestination(destURL)
	if err != nil {
		logger.Println(err)
		return 1
	}

	cache := dedupcache.New(cfg.CacheDir, destURL, cacheWrapper(cfg, logger))

	env := &envelope.GPG{Binary: *gpgBinary}

	result, err := backup.Run(context.Background(), backup.Options{
		LocalPath:            localPath,
		Store:                store,
		KeyPrefix:            keyPrefix,
		StorageClass:         objectstore.StorageClass(*storageClass),
		DestinationURL:       destURL,
		EncryptionRecipients: recipients,
		Envelope:             env,
		Cache:                cache,
		Config:               cfg,
		Log:                  logger,
	})
	if err != nil {
		logger.Println(err)
		return 1
	}

	logger.Printf("Backup %s complete: %d files, %d new blocks, %d reused blocks",
		result.BackupID, result.FilesBacked, result.NewBlocks, result.ReusedBlocks)
	return 0
}

func runRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	gpgBinary := fs.String("gpg-binary", "gpg2", "gpg binary to shell out to for manifest decryption")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	fs.Parse(args)

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "restore: expected <backup-url> <restore-path>")
		return 2
	}
	backupURL, restorePath := fs.Arg(0), fs.Arg(1)

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "baq:", err)
		return 1
	}
	logger, logCloser, err := baqlog.New(cfg.LogFile, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "baq:", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	store, backupID, err := parseBackupURL(backupURL)
	if err != nil {
		logger.Println(err)
		return 1
	}

	env := &envelope.GPG{Binary: *gpgBinary}

	idx, err := restore.FromBackup(context.Background(), store, env, "", backupID, restorePath, logger)
	if err != nil {
		logger.Println(err)
		return 1
	}

	logger.Printf("Restore of backup %s complete: %d files", backupID, len(idx.Files))
	return 0
}

// cacheWrapper returns the keywrap.Wrapper used for the local dedup
// cache, encrypting it with age when both a recipient and identity are
// configured and leaving it in the clear otherwise.
func cacheWrapper(cfg config.Config, logger *log.Logger) keywrap.Wrapper {
	if cfg.CacheRecipient == "" || cfg.CacheIdentity == "" {
		return keywrap.Passthrough{}
	}
	w, err := keywrap.NewAge(cfg.CacheRecipient, cfg.CacheIdentity)
	if err != nil {
		logger.Printf("baq: ignoring BAQ_CACHE_RECIPIENT/BAQ_CACHE_IDENTITY: %v", err)
		return keywrap.Passthrough{}
	}
	return w
}
