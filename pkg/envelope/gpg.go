// Copyright 2014 The Perkeep Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package envelope

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// GPG wraps manifests by shelling out to a gpg2 binary. It signs every
// manifest it encrypts and trusts every configured recipient
// unconditionally, matching how backups have always been encrypted:
// restoring your own backups must never be blocked on a stale trust
// database.
type GPG struct {
	// Binary is the gpg2 executable to run. Defaults to "gpg2" on PATH.
	Binary string
}

// NewGPG returns a GPG envelope that runs "gpg2" from PATH.
func NewGPG() *GPG { return &GPG{Binary: "gpg2"} }

func (g *GPG) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "gpg2"
}

func (g *GPG) Encrypt(ctx context.Context, srcPath, dstPath string, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("envelope: gpg encrypt %s: no recipients configured", srcPath)
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("envelope: gpg encrypt: destination %s already exists", dstPath)
	}
	args := []string{"--encrypt", "--sign", "--trust-model=always", "--compress-algo=none"}
	for _, r := range recipients {
		args = append(args, "-r", r)
	}
	args = append(args, "-o", dstPath, srcPath)
	if err := g.run(ctx, args); err != nil {
		return fmt.Errorf("envelope: gpg encrypt %s: %w", srcPath, err)
	}
	return checkNonEmpty(dstPath, "encrypt")
}

func (g *GPG) Decrypt(ctx context.Context, srcPath, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("envelope: gpg decrypt: destination %s already exists", dstPath)
	}
	args := []string{"--decrypt", "-o", dstPath, srcPath}
	if err := g.run(ctx, args); err != nil {
		return fmt.Errorf("envelope: gpg decrypt %s: %w", srcPath, err)
	}
	return checkNonEmpty(dstPath, "decrypt")
}

func (g *GPG) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, stderr.String())
		}
		return err
	}
	return nil
}

// checkNonEmpty guards against a known gpg-agent race that occasionally
// produces an empty output file without returning a nonzero exit code.
func checkNonEmpty(path, op string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("envelope: gpg %s: output file missing: %w", op, err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("envelope: gpg %s: output file is empty", op)
	}
	return nil
}
