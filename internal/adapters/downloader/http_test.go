package downloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reportharvest/internal/core/ports"
)

func TestDownloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "harvest-test" {
			t.Errorf("expected user agent harvest-test, got %q", ua)
		}
		w.Write([]byte("%PDF-1.4 report"))
	}))
	defer server.Close()

	d := NewHTTPDownloader(Options{UserAgent: "harvest-test"})
	rc, err := d.Download(context.Background(), server.URL+"/r.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "%PDF-1.4 report" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestDownloadNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	d := NewHTTPDownloader(DefaultOptions())
	_, err := d.Download(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}

	var te *ports.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ports.TransportError, got %T", err)
	}
	if te.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", te.StatusCode)
	}
	if te.Timeout {
		t.Error("404 must not be reported as timeout")
	}
}

func TestDownloadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	d := NewHTTPDownloader(Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := d.Download(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("download hung for %v", elapsed)
	}

	var te *ports.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ports.TransportError, got %T", err)
	}
	if !te.Timeout {
		t.Errorf("expected timeout flag, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout in message, got %q", err.Error())
	}
}

func TestDownloadTimeoutWhileStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	d := NewHTTPDownloader(Options{Timeout: 200 * time.Millisecond})
	rc, err := d.Download(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	_, err = io.ReadAll(rc)
	var te *ports.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ports.TransportError from body read, got %v", err)
	}
	if !te.Timeout {
		t.Errorf("expected timeout flag, got %v", err)
	}
}

func TestDownloadConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	d := NewHTTPDownloader(DefaultOptions())
	_, err := d.Download(context.Background(), url)

	var te *ports.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ports.TransportError, got %v", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("expected no status code, got %d", te.StatusCode)
	}
}

func TestDownloadInvalidURL(t *testing.T) {
	d := NewHTTPDownloader(DefaultOptions())
	_, err := d.Download(context.Background(), "://bad")

	var te *ports.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ports.TransportError, got %v", err)
	}
}
