package badgecount

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShouldQueryURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr error
	}{
		{uri: "https://example.com/page", want: "https://example.com/page"},
		{uri: "http://example.com/page#annotations:123", want: "http://example.com/page"},
		{uri: "https://example.com/search?q=a+b", want: "https://example.com/search?q=a+b"},
		{uri: "file:///home/user/doc.pdf", wantErr: ErrBlockedProtocol},
		{uri: "chrome://extensions", wantErr: ErrBlockedProtocol},
		{uri: "about:blank", wantErr: ErrBlockedProtocol},
		{uri: "https://facebook.com/someone", wantErr: ErrBlockedHostname},
		{uri: "https://www.facebook.com/", wantErr: ErrBlockedHostname},
		{uri: "https://mail.google.com/mail/u/0", wantErr: ErrBlockedHostname},
	}
	for _, tt := range tests {
		got, err := ShouldQueryURI(tt.uri)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ShouldQueryURI(%q) err = %v, want %v", tt.uri, err, tt.wantErr)
			}
			if !IsBlocked(err) {
				t.Errorf("IsBlocked(%v) = false", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ShouldQueryURI(%q) unexpected error: %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ShouldQueryURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestFetchCount(t *testing.T) {
	var gotURI, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotURI = r.URL.Query().Get("uri")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total": 42}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/api/", time.Second)
	count, err := f.FetchCount(context.Background(), "https://example.com/a b#frag")
	if err != nil {
		t.Fatalf("FetchCount: %v", err)
	}
	if count != 42 {
		t.Errorf("count = %d, want 42", count)
	}
	if gotPath != "/api/badge" {
		t.Errorf("path = %q, want /api/badge", gotPath)
	}
	if gotURI != "https://example.com/a%20b" {
		t.Errorf("uri = %q, want fragment stripped", gotURI)
	}
}

func TestFetchCount_ParseErrors(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"total": null}`,
		`{"total": "12"}`,
		`{"total": -1}`,
		`{"total": 1e300}`,
		`not json`,
		`[]`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		_, err := NewFetcher(srv.URL, time.Second).FetchCount(context.Background(), "https://example.com")
		srv.Close()
		if !errors.Is(err, ErrParse) {
			t.Errorf("body %q: err = %v, want ErrParse", body, err)
		}
	}
}

func TestFetchCount_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, time.Second).FetchCount(context.Background(), "https://example.com")
	if err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestFetchCount_BlockedNeverSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL, time.Second).FetchCount(context.Background(), "https://mail.google.com/mail")
	if !IsBlocked(err) {
		t.Fatalf("err = %v, want blocked", err)
	}
	if called {
		t.Error("blocked URL reached the service")
	}
}

func TestFetchCount_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total": 1}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFetcher(srv.URL, time.Second).FetchCount(ctx, "https://example.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
