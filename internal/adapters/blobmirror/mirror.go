package blobmirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"

	"reportharvest/internal/core/domain"
)

// DefaultPrefix is the remote folder artifacts are placed under.
const DefaultPrefix = "PDF-Downloader-Uploads/"

// BlobMirror implements ports.Mirror on top of a gocloud bucket.
// The bucket URL scheme selects the provider: gs://, s3://, file://, mem://.
type BlobMirror struct {
	bucket *blob.Bucket
	prefix string
	logger *log.Logger
}

// Open opens the bucket at bucketURL and scopes it to prefix.
func Open(ctx context.Context, bucketURL, prefix string, logger *log.Logger) (*BlobMirror, error) {
	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	return New(bkt, prefix, logger), nil
}

// New wraps an already opened bucket. The mirror takes ownership of bkt.
func New(bkt *blob.Bucket, prefix string, logger *log.Logger) *BlobMirror {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &BlobMirror{bucket: bkt, prefix: prefix, logger: logger}
}

// Close releases the bucket.
func (m *BlobMirror) Close() error {
	return m.bucket.Close()
}

// Mirror uploads every path whose base name is not yet present in the bucket.
// Per-file failures are collected in the report; the returned error is only
// set when the context ends.
func (m *BlobMirror) Mirror(ctx context.Context, paths []string) (*domain.MirrorReport, error) {
	report := &domain.MirrorReport{}
	if len(paths) == 0 {
		m.logger.Println("No files found to upload.")
		return report, nil
	}
	m.logger.Printf("Found %d files to upload.", len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		key := m.prefix + filepath.Base(path)

		exists, err := m.bucket.Exists(ctx, key)
		if err != nil {
			m.fail(report, path, fmt.Errorf("failed to check %s: %w", key, err))
			continue
		}
		if exists {
			m.logger.Printf("File %s already exists remotely. Skipping.", key)
			report.Skipped = append(report.Skipped, path)
			continue
		}

		if err := m.upload(ctx, key, path); err != nil {
			m.fail(report, path, err)
			continue
		}
		m.logger.Printf("✓ Uploaded %s", key)
		report.Uploaded = append(report.Uploaded, path)
	}

	m.logger.Printf("Uploaded %d of %d files (%d already present, %d failed)",
		len(report.Uploaded), len(paths), len(report.Skipped), len(report.Failed))
	return report, nil
}

func (m *BlobMirror) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// Cancelling the writer context aborts the upload instead of committing a partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := &blob.WriterOptions{ContentType: contentType(path)}
	w, err := m.bucket.NewWriter(wctx, key, opts)
	if err != nil {
		return fmt.Errorf("failed to create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish upload of %s: %w", key, err)
	}
	return nil
}

func (m *BlobMirror) fail(report *domain.MirrorReport, path string, err error) {
	m.logger.Printf("✗ Error uploading %s: %v", filepath.Base(path), err)
	report.Failed = append(report.Failed, domain.MirrorFailure{Path: path, Error: err.Error()})
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
