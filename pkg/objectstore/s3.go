// Copyright 2011 Google Inc.
// Copyright 2018 The Perkeep Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package objectstore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 is an objectstore.Store backed by an Amazon S3 (or S3-compatible)
// bucket, reached through github.com/aws/aws-sdk-go. Configuration
// (credentials, region, custom endpoint) is resolved by the SDK's usual
// chain (environment, shared config, EC2/ECS metadata), matching how
// the rest of the AWS-using examples in this codebase's lineage leave
// credential resolution to the SDK rather than reimplementing it.
type S3 struct {
	client *s3.S3
	bucket string
	prefix string // key prefix, empty or slash-terminated
}

// NewS3 constructs an S3 store for the given bucket, with all object
// names prefixed by keyPrefix.
func NewS3(bucket, keyPrefix string) (*S3, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating AWS session: %w", err)
	}
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	return &S3{client: s3.New(sess), bucket: bucket, prefix: keyPrefix}, nil
}

func (s *S3) key(name string) string { return s.prefix + name }

func (s *S3) PutObject(ctx context.Context, name string, r io.Reader, size int64, class StorageClass) error {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		rs = bytes.NewReader(buf)
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key(name)),
		Body:         rs,
		ContentLength: aws.Int64(size),
		StorageClass: aws.String(string(class)),
		ACL:          aws.String("private"),
	})
	return err
}

func (s *S3) GetObject(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *S3) GetRange(ctx context.Context, name string, offset, size int64) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("objectstore: GetRange %s: got %d bytes, want %d", name, len(data), size)
	}
	return data, nil
}

// GetRanges coalesces adjacent ranges into the fewest possible GetObject
// range requests and streams their bodies, in request order, through the
// returned reader. Ported from the coalescing loop in the original
// Python S3Backend.retrieve_file_ranges.
func (s *S3) GetRanges(ctx context.Context, name string, ranges []Range) (io.ReadCloser, error) {
	groups := coalesceRanges(ranges)
	pr, pw := io.Pipe()
	go func() {
		var err error
		for _, g := range groups {
			var out *s3.GetObjectOutput
			out, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.key(name)),
				Range:  aws.String(fmt.Sprintf("bytes=%d-%d", g.start, g.end-1)),
			})
			if err != nil {
				break
			}
			_, err = io.Copy(pw, out.Body)
			out.Body.Close()
			if err != nil {
				break
			}
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

type rangeGroup struct{ start, end int64 }

// coalesceRanges merges adjacent (touching) ranges into single HTTP
// ranges, preserving the original ranges' relative order so the caller
// can still slice the streamed body back into individual blocks.
func coalesceRanges(ranges []Range) []rangeGroup {
	if len(ranges) == 0 {
		return nil
	}
	var groups []rangeGroup
	cur := rangeGroup{ranges[0].Offset, ranges[0].Offset + ranges[0].Size}
	for _, r := range ranges[1:] {
		if r.Offset == cur.end {
			cur.end += r.Size
			continue
		}
		groups = append(groups, cur)
		cur = rangeGroup{r.Offset, r.Offset + r.Size}
	}
	groups = append(groups, cur)
	return groups
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *S3) CreateMultipart(ctx context.Context, name string, class StorageClass) (string, error) {
	out, err := s.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key(name)),
		ACL:          aws.String("private"),
		StorageClass: aws.String(string(class)),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.UploadId), nil
}

func (s *S3) UploadPart(ctx context.Context, name, uploadID string, partNumber int, data []byte) (string, [20]byte, error) {
	var zero [20]byte
	if err := checkPartNumber(partNumber); err != nil {
		return "", zero, err
	}
	sum := sha1.Sum(data)
	out, err := s.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int64(int64(partNumber)),
		Body:          bytes.NewReader(data),
		ChecksumSHA1:  aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return "", zero, err
	}
	return aws.StringValue(out.ETag), sum, nil
}

func (s *S3) CompleteMultipart(ctx context.Context, name, uploadID string, parts []CompletedPart, aggregateSHA1 [20]byte) error {
	completed := make([]*s3.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = &s3.CompletedPart{
			PartNumber:   aws.Int64(int64(p.PartNumber)),
			ETag:         aws.String(p.ETag),
			ChecksumSHA1: aws.String(base64.StdEncoding.EncodeToString(p.SHA1[:])),
		}
	}
	_, err := s.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(s.key(name)),
		UploadId:     aws.String(uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: completed,
		},
		ChecksumSHA1: aws.String(base64.StdEncoding.EncodeToString(aggregateSHA1[:])),
	})
	return err
}

func (s *S3) AbortMultipart(ctx context.Context, name, uploadID string) error {
	_, err := s.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(name)),
		UploadId: aws.String(uploadID),
	})
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var aerr awserr.Error
	if strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) {
		return true
	}
	if ok := asAWSErr(err, &aerr); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

func asAWSErr(err error, target *awserr.Error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		*target = aerr
		return true
	}
	return false
}
