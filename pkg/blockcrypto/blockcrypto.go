// Copyright 2014 The Perkeep Authors
// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blockcrypto implements the block-level encryption and content
// addressing primitives used by the backup and restore pipelines:
// AES-256-CTR with a random prepended nonce, whole-file SHA-1 integrity
// hashing, and SHA3-512 content addressing.
package blockcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"
)

// NonceSize is the length, in bytes, of the random nonce prepended to
// every encrypted block.
const NonceSize = 16

// KeySize is the length, in bytes, of an AES-256 key.
const KeySize = 32

// BlockIDSize is the length, in bytes, of a SHA3-512 block address.
const BlockIDSize = 64

// BlockID is the SHA3-512 digest of a block's raw (pre-compression,
// pre-encryption) bytes. It is the key of the dedup index.
type BlockID [BlockIDSize]byte

// Hex returns the lowercase hex encoding of id, as stored in the
// manifest's file_data.sha3 field.
func (id BlockID) Hex() string {
	return hex.EncodeToString(id[:])
}

// ParseBlockID decodes a hex string produced by Hex.
func ParseBlockID(s string) (BlockID, error) {
	var id BlockID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("blockcrypto: bad block id %q: %w", s, err)
	}
	if len(b) != BlockIDSize {
		return id, fmt.Errorf("blockcrypto: bad block id %q: want %d bytes, got %d", s, BlockIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Key is a per-file AES-256 key, generated fresh for every regular file
// backed up. New blocks discovered while backing up a file are encrypted
// under that file's key; blocks reused from a previous backup keep
// whichever key encrypted them originally (see the aes_key field in
// file_data manifest records).
type Key [KeySize]byte

// Hex returns the lowercase hex encoding of k, as stored in the
// manifest's file_data.aes_key field.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// ParseKey decodes a hex string produced by Hex.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("blockcrypto: bad key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("blockcrypto: bad key: want %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// NewKey generates a fresh random per-file AES-256 key.
func NewKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("blockcrypto: generating key: %w", err)
	}
	return k, nil
}

// SumBlockID computes the content address (SHA3-512) of raw block bytes.
func SumBlockID(raw []byte) BlockID {
	return BlockID(sha3.Sum512(raw))
}

// Encrypt returns nonce || ciphertext, AES-256-CTR encrypted under key with
// a freshly generated 16-byte random nonce. The returned slice is always
// NonceSize bytes longer than plain.
func Encrypt(plain []byte, key Key) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("blockcrypto: %w", err)
	}
	out := make([]byte, NonceSize+len(plain))
	nonce := out[:NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("blockcrypto: generating nonce: %w", err)
	}
	stream := cipher.NewCTR(block, nonce)
	stream.XORKeyStream(out[NonceSize:], plain)
	return out, nil
}

// Decrypt parses the first NonceSize bytes of blob as the nonce and
// decrypts the remainder under key.
func Decrypt(blob []byte, key Key) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, errors.New("blockcrypto: ciphertext shorter than nonce")
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("blockcrypto: %w", err)
	}
	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCTR(block, nonce).XORKeyStream(plain, ciphertext)
	return plain, nil
}

// SHA1Hasher accumulates a running whole-file SHA-1 hash, matching the
// integrity hash emitted in file_summary manifest records.
type SHA1Hasher struct {
	h hash1
}

type hash1 = interface {
	io.Writer
	Sum(b []byte) []byte
}

// NewSHA1Hasher returns a hasher ready to accept Write calls in file-offset
// order.
func NewSHA1Hasher() *SHA1Hasher {
	return &SHA1Hasher{h: sha1.New()}
}

func (s *SHA1Hasher) Write(p []byte) (int, error) { return s.h.Write(p) }

// HexDigest returns the final hex-encoded SHA-1 digest.
func (s *SHA1Hasher) HexDigest() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// SHA1Hex computes the hex-encoded SHA-1 digest of all bytes in r.
func SHA1Hex(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
