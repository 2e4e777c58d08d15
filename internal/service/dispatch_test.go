package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reportharvest/internal/adapters/downloader"
	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
)

func TestDispatchOneOutcomePerItem(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("X%d", i+1)
	}
	dl := &fakeDownloader{handle: slowBody(10 * time.Millisecond)}
	store := newMemStore()

	ledger := NewDispatcher(dl, store, 3, testLogger(t)).Dispatch(context.Background(), items(ids...), nil)

	if len(ledger) != len(ids) {
		t.Fatalf("expected %d outcomes, got %d", len(ids), len(ledger))
	}
	seen := map[string]bool{}
	for _, o := range ledger {
		if seen[o.ID] {
			t.Errorf("duplicate outcome for %s", o.ID)
		}
		seen[o.ID] = true
		if !o.Succeeded() {
			t.Errorf("expected %s to succeed, got %s", o.ID, o.Detail)
		}
		if !store.has(o.ID) {
			t.Errorf("expected %s to be saved", o.ID)
		}
	}
	if peak := dl.peak.Load(); peak > 3 {
		t.Errorf("expected at most 3 concurrent downloads, saw %d", peak)
	}
	if calls := dl.calls.Load(); calls != int32(len(ids)) {
		t.Errorf("expected each item fetched once, got %d fetches", calls)
	}
}

func TestDispatchEmptyQueue(t *testing.T) {
	dl := &fakeDownloader{handle: slowBody(0)}
	ledger := NewDispatcher(dl, newMemStore(), 5, testLogger(t)).Dispatch(context.Background(), nil, nil)
	if len(ledger) != 0 {
		t.Fatalf("expected empty ledger, got %d outcomes", len(ledger))
	}
}

func TestDispatchUsesFallbackURL(t *testing.T) {
	dl := &fakeDownloader{handle: slowBody(0)}
	queue := []domain.WorkItem{
		{ID: "P", PrimaryURL: "https://a.example/p.pdf", FallbackURL: "https://a.example/p.html"},
		{ID: "F", FallbackURL: "https://a.example/f.html"},
	}

	ledger := NewDispatcher(dl, newMemStore(), 2, testLogger(t)).Dispatch(context.Background(), queue, nil)

	got := dl.requested()
	want := []string{"https://a.example/f.html", "https://a.example/p.pdf"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requested %v, want %v", got, want)
	}
	if url := ledger.ByID()["F"].URL; url != "https://a.example/f.html" {
		t.Errorf("expected outcome to carry fallback URL, got %s", url)
	}
}

func TestDispatchFailuresAreIsolated(t *testing.T) {
	dl := &fakeDownloader{handle: func(ctx context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/B.pdf") {
			return nil, &ports.TransportError{URL: url, StatusCode: 404}
		}
		return bodyOf("ok"), nil
	}}
	store := newMemStore()
	store.saveErr["C"] = errDiskFull

	ledger := NewDispatcher(dl, store, 2, testLogger(t)).Dispatch(context.Background(), items("A", "B", "C", "D"), nil)
	byID := ledger.ByID()

	if !byID["A"].Succeeded() || !byID["D"].Succeeded() {
		t.Errorf("expected A and D to succeed: %+v", ledger)
	}
	b := byID["B"]
	if b.Succeeded() || b.Kind != domain.FailureTransport {
		t.Errorf("expected B to fail with a transport error, got %+v", b)
	}
	if b.Detail != "network error: unexpected status code: 404" {
		t.Errorf("unexpected detail for B: %q", b.Detail)
	}
	c := byID["C"]
	if c.Succeeded() || c.Kind != domain.FailureUnexpected {
		t.Errorf("expected C to fail unexpectedly, got %+v", c)
	}
	if !strings.HasPrefix(c.Detail, "unexpected error: ") || !strings.Contains(c.Detail, "no space left") {
		t.Errorf("unexpected detail for C: %q", c.Detail)
	}
	if store.has("B") || store.has("C") {
		t.Error("failed items must not leave artifacts")
	}
}

func TestDispatchTimeoutIsReported(t *testing.T) {
	dl := &fakeDownloader{handle: func(ctx context.Context, url string) (io.ReadCloser, error) {
		return nil, &ports.TransportError{URL: url, Timeout: true, Err: context.DeadlineExceeded}
	}}

	ledger := NewDispatcher(dl, newMemStore(), 1, testLogger(t)).Dispatch(context.Background(), items("T"), nil)

	if len(ledger) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(ledger))
	}
	o := ledger[0]
	if o.Succeeded() || o.Kind != domain.FailureTransport {
		t.Fatalf("expected transport failure, got %+v", o)
	}
	if !strings.Contains(o.Detail, "timed out") {
		t.Errorf("expected detail to mention the timeout, got %q", o.Detail)
	}
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	dl := &fakeDownloader{handle: func(ctx context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/BAD.pdf") {
			panic("malformed response")
		}
		return bodyOf("ok"), nil
	}}

	ledger := NewDispatcher(dl, newMemStore(), 2, testLogger(t)).Dispatch(context.Background(), items("OK1", "BAD", "OK2"), nil)

	if len(ledger) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(ledger))
	}
	bad := ledger.ByID()["BAD"]
	if bad.Kind != domain.FailureUnexpected || !strings.Contains(bad.Detail, "malformed response") {
		t.Errorf("expected recovered panic as unexpected failure, got %+v", bad)
	}
	if ok, _ := ledger.Counts(); ok != 2 {
		t.Errorf("expected the other items to succeed, got %d successes", ok)
	}
}

func TestDispatchCancellation(t *testing.T) {
	started := make(chan struct{}, 10)
	dl := &fakeDownloader{handle: func(ctx context.Context, url string) (io.ReadCloser, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan domain.Ledger)
	go func() {
		done <- NewDispatcher(dl, newMemStore(), 1, testLogger(t)).Dispatch(ctx, items("A", "B", "C", "D", "E"), nil)
	}()

	<-started
	cancel()

	var ledger domain.Ledger
	select {
	case ledger = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}

	if len(ledger) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(ledger))
	}
	byID := ledger.ByID()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		o, ok := byID[id]
		if !ok {
			t.Errorf("missing outcome for %s", id)
			continue
		}
		if o.Kind != domain.FailureCancelled {
			t.Errorf("expected %s to be cancelled, got %+v", id, o)
		}
	}
}

func TestDispatchCancellationThroughHTTPClient(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	dl := downloader.NewHTTPDownloader(downloader.Options{Timeout: 30 * time.Second})
	item := domain.WorkItem{ID: "A", PrimaryURL: server.URL + "/A.pdf"}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan domain.Ledger)
	go func() {
		done <- NewDispatcher(dl, newMemStore(), 1, testLogger(t)).Dispatch(ctx, []domain.WorkItem{item}, nil)
	}()

	<-started
	cancel()

	var ledger domain.Ledger
	select {
	case ledger = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}

	if len(ledger) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(ledger))
	}
	if o := ledger[0]; o.Kind != domain.FailureCancelled || !strings.HasPrefix(o.Detail, "cancelled") {
		t.Errorf("expected an interrupted request to be recorded as cancelled, got %+v", o)
	}
}

func TestClassifyPrefersCancellationOverTransport(t *testing.T) {
	err := &ports.TransportError{URL: "https://reports.example/A.pdf", Err: fmt.Errorf("Get: %w", context.Canceled)}

	kind, detail := classify(err)
	if kind != domain.FailureCancelled {
		t.Errorf("expected cancelled, got %s (%s)", kind, detail)
	}

	kind, _ = classify(&ports.TransportError{URL: "https://reports.example/A.pdf", StatusCode: 503})
	if kind != domain.FailureTransport {
		t.Errorf("expected transport failure for a status code, got %s", kind)
	}
}
