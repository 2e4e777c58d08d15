package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reportharvest/internal/core/domain"
)

// fakeDownloader serves bodies from a handler and records peak concurrency.
type fakeDownloader struct {
	handle func(ctx context.Context, url string) (io.ReadCloser, error)

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32

	mu   sync.Mutex
	urls []string
}

func (d *fakeDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	d.calls.Add(1)
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return d.handle(ctx, url)
}

func (d *fakeDownloader) requested() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.urls...)
	sort.Strings(out)
	return out
}

func bodyOf(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

// slowBody returns a handler that takes d per request and echoes the URL.
func slowBody(d time.Duration) func(context.Context, string) (io.ReadCloser, error) {
	return func(ctx context.Context, url string) (io.ReadCloser, error) {
		select {
		case <-time.After(d):
			return bodyOf("pdf:" + url), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// memStore is an in-memory ports.ArtifactStore.
type memStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr map[string]error
	initErr error
	listErr error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{files: map[string][]byte{}, saveErr: map[string]error{}}
	for _, id := range ids {
		s.files[id] = []byte("existing")
	}
	return s
}

func (s *memStore) Init(ctx context.Context) error { return s.initErr }

func (s *memStore) Existing(ctx context.Context) (map[string]struct{}, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.files))
	for id := range s.files {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *memStore) Save(ctx context.Context, id string, r io.Reader) (int64, error) {
	s.mu.Lock()
	err := s.saveErr[id]
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.files[id] = buf.Bytes()
	s.mu.Unlock()
	return n, nil
}

func (s *memStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for id := range s.files {
		paths = append(paths, s.Path(id))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *memStore) Path(id string) string { return id + ".pdf" }

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[id]
	return ok
}

var errDiskFull = errors.New("no space left on device")

func items(ids ...string) []domain.WorkItem {
	out := make([]domain.WorkItem, len(ids))
	for i, id := range ids {
		out[i] = domain.WorkItem{ID: id, PrimaryURL: "https://reports.example/" + id + ".pdf"}
	}
	return out
}

// testLogger writes through t.Log so output only shows for failing tests.
func testLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
