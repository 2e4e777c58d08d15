package ports

import (
	"context"
	"fmt"
	"io"

	"reportharvest/internal/core/domain"
)

// Downloader defines the contract for fetching a document over the network.
type Downloader interface {
	// Download fetches the document at the given URL.
	// Returns a ReadCloser that the caller must close.
	// Network and HTTP status failures are reported as *TransportError,
	// including failures while reading the returned body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// TransportError is a network-level or HTTP-level download failure.
type TransportError struct {
	URL        string
	StatusCode int  // 0 when no response was received
	Timeout    bool // the request exceeded its deadline
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request timed out: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	default:
		return e.Err.Error()
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ArtifactStore defines the contract for the local download destination.
type ArtifactStore interface {
	// Init creates the destination directory structure. Safe to call repeatedly.
	Init(ctx context.Context) error

	// Existing returns the identifiers that already have an artifact.
	Existing(ctx context.Context) (map[string]struct{}, error)

	// Save writes the artifact for id from reader. The final file only
	// appears once the whole stream has been written.
	Save(ctx context.Context, id string, reader io.Reader) (int64, error)

	// List returns the paths of all materialized artifacts.
	List(ctx context.Context) ([]string, error)

	// Path returns the artifact path for id.
	Path(id string) string
}

// TableStore defines the contract for reading and writing spreadsheets.
type TableStore interface {
	// Load reads the first sheet of the file at path.
	// A missing file is reported with an error satisfying errors.Is(err, fs.ErrNotExist).
	Load(ctx context.Context, path string) (*domain.Table, error)

	// Save replaces the file at path with the table.
	Save(ctx context.Context, path string, table *domain.Table) error

	// Copy duplicates the file at src to dst byte for byte.
	Copy(ctx context.Context, src, dst string) error
}

// Mirror defines the contract for pushing local artifacts to remote storage.
type Mirror interface {
	// Mirror uploads every path not already present remotely.
	Mirror(ctx context.Context, paths []string) (*domain.MirrorReport, error)
}
