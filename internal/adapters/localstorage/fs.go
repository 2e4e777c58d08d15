package localstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage implements ports.ArtifactStore for the local filesystem.
// Artifacts are stored as <DownloadDir>/<id><Extension>.
type LocalStorage struct {
	DownloadDir string
	OutputDir   string
	Extension   string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(downloadDir, outputDir, extension string) *LocalStorage {
	if extension == "" {
		extension = ".pdf"
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &LocalStorage{DownloadDir: downloadDir, OutputDir: outputDir, Extension: extension}
}

// Init creates the download and output directories.
func (s *LocalStorage) Init(ctx context.Context) error {
	for _, dir := range []string{s.DownloadDir, s.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Existing returns the identifiers that already have an artifact on disk.
// A missing download directory scans as empty.
func (s *LocalStorage) Existing(ctx context.Context) (map[string]struct{}, error) {
	names, err := s.artifactNames()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(names))
	for _, name := range names {
		ids[strings.TrimSuffix(name, s.Extension)] = struct{}{}
	}
	return ids, nil
}

// List returns the paths of all artifacts, sorted by name.
func (s *LocalStorage) List(ctx context.Context) ([]string, error) {
	names, err := s.artifactNames()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(s.DownloadDir, name)
	}
	return paths, nil
}

func (s *LocalStorage) artifactNames() ([]string, error) {
	entries, err := os.ReadDir(s.DownloadDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list download directory %s: %w", s.DownloadDir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(name, s.Extension) || name == s.Extension {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Save streams reader into a temporary file next to the artifact and renames
// it into place once fully written. On failure no file is left behind.
func (s *LocalStorage) Save(ctx context.Context, id string, reader io.Reader) (int64, error) {
	if err := validID(id); err != nil {
		return 0, err
	}
	path := s.Path(id)

	tmp, err := os.CreateTemp(s.DownloadDir, "."+id+"-*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, reader)
	if err != nil {
		return n, fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close file %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return n, fmt.Errorf("failed to move file into place %s: %w", path, err)
	}
	committed = true
	return n, nil
}

// Path returns the artifact path for id.
func (s *LocalStorage) Path(id string) string {
	return filepath.Join(s.DownloadDir, id+s.Extension)
}

// validID rejects identifiers that cannot name a visible artifact. Names
// starting with a dot are reserved for in-progress writes and are never
// scanned.
func validID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid identifier for a file name: %q", id)
	}
	return nil
}
