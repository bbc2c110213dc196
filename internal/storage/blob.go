package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Options are shared by every backend.
type Options struct {
	Prefix          string
	CompressReports bool
}

// BlobStore writes run artifacts to a gocloud.dev bucket. The backends differ
// only in how the bucket is opened and how keys render as URIs.
type BlobStore struct {
	bucket  *blob.Bucket
	opts    Options
	uriBase string
}

func newBlobStore(bucket *blob.Bucket, uriBase string, opts Options) *BlobStore {
	return &BlobStore{bucket: bucket, opts: opts, uriBase: uriBase}
}

func (s *BlobStore) Prefix() string { return s.opts.Prefix }

// WriteTaskMap writes the encoded task map.
func (s *BlobStore) WriteTaskMap(ctx context.Context, ref RunRef, data []byte) error {
	key := ref.TaskMapPath(s.opts.Prefix)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
		return fmt.Errorf("write task map %s: %w", key, err)
	}
	return nil
}

// WriteReport writes the report as indented JSON, zstd-compressed when the
// store is configured to compress reports.
func (s *BlobStore) WriteReport(ctx context.Context, ref RunRef, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	contentType := "application/json"
	if s.opts.CompressReports {
		data, err = compress(data)
		if err != nil {
			return err
		}
		contentType = "application/zstd"
	}

	key := ref.ReportPath(s.opts.Prefix, s.opts.CompressReports)
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("write report %s: %w", key, err)
	}
	return nil
}

// ReadReport reads the report written by WriteReport.
func (s *BlobStore) ReadReport(ctx context.Context, ref RunRef) (*Report, error) {
	key := ref.ReportPath(s.opts.Prefix, s.opts.CompressReports)
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read report %s: %w", key, err)
	}

	if s.opts.CompressReports {
		data, err = decompress(data)
		if err != nil {
			return nil, err
		}
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", key, err)
	}
	return &report, nil
}

// Exists checks whether key exists in the bucket.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.uriBase + key
}

// Close releases the bucket.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(nil), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
