package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appErr "runbox/pkg/errors"
)

const (
	testAssetPath = "/static/js/compiler.4f7a21c9.js"
	testEndpoint  = "exec_9h2kd"
)

// newFakeSite serves a landing page referencing a hashed bundle and the
// bundle assigning the endpoint constant, counting fetches of each.
func newFakeSite(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var landingHits, assetHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		landingHits.Add(1)
		fmt.Fprintf(w, `<html><head><script src=%q></script></head><body></body></html>`, testAssetPath)
	})
	mux.HandleFunc(testAssetPath, func(w http.ResponseWriter, r *http.Request) {
		assetHits.Add(1)
		fmt.Fprintf(w, `!function(){var EXEC_ENDPOINT = %q;run(EXEC_ENDPOINT)}();`, testEndpoint)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &landingHits, &assetHits
}

func TestResolve(t *testing.T) {
	srv, landingHits, assetHits := newFakeSite(t)
	r := NewResolver(srv.URL, srv.Client(), 0, nil)

	token, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if token != testEndpoint {
		t.Errorf("token = %q, want %q", token, testEndpoint)
	}
	if landingHits.Load() != 1 || assetHits.Load() != 1 {
		t.Errorf("fetches = %d/%d, want 1/1", landingHits.Load(), assetHits.Load())
	}
}

func TestResolveReusesCache(t *testing.T) {
	srv, landingHits, _ := newFakeSite(t)
	r := NewResolver(srv.URL, srv.Client(), 0, nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background()); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if landingHits.Load() != 1 {
		t.Errorf("landing fetched %d times inside the refresh window, want 1", landingHits.Load())
	}
}

func TestResolveAfterExpiry(t *testing.T) {
	srv, landingHits, _ := newFakeSite(t)
	r := NewResolver(srv.URL, srv.Client(), time.Minute, nil)

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Jump the clock past the expiry; the next call re-resolves once.
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after re-resolution: %v", err)
	}
	if landingHits.Load() != 2 {
		t.Errorf("landing fetched %d times, want exactly 2 (one re-resolution)", landingHits.Load())
	}
}

func TestResolveInvalidate(t *testing.T) {
	srv, landingHits, _ := newFakeSite(t)
	r := NewResolver(srv.URL, srv.Client(), 0, nil)

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.Invalidate()
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve after Invalidate: %v", err)
	}
	if landingHits.Load() != 2 {
		t.Errorf("landing fetched %d times, want 2 after Invalidate", landingHits.Load())
	}
}

func TestResolvePatternMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>nothing to see</body></html>`)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, srv.Client(), 0, nil)
	_, err := r.Resolve(context.Background())
	if !appErr.Is(err, appErr.ResolvePatternMismatch) {
		t.Fatalf("expected ResolvePatternMismatch, got %v", err)
	}
}

func TestResolveAssetStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<script src=%q></script>`, testAssetPath)
	})
	mux.HandleFunc(testAssetPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewResolver(srv.URL, srv.Client(), 0, nil)
	_, err := r.Resolve(context.Background())
	if !appErr.Is(err, appErr.ResolveFetchFailed) {
		t.Fatalf("expected ResolveFetchFailed, got %v", err)
	}
}

type fakeStore struct {
	token string
	ttl   time.Duration
	saved []string
}

func (s *fakeStore) Load(ctx context.Context) (string, time.Duration, bool) {
	if s.token == "" {
		return "", 0, false
	}
	return s.token, s.ttl, true
}

func (s *fakeStore) Save(ctx context.Context, token string, ttl time.Duration) {
	s.saved = append(s.saved, token)
}

func TestResolveStoreHitSkipsScrape(t *testing.T) {
	srv, landingHits, _ := newFakeSite(t)
	store := &fakeStore{token: "shared_tok", ttl: time.Minute}
	r := NewResolver(srv.URL, srv.Client(), 0, store)

	token, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if token != "shared_tok" {
		t.Errorf("token = %q, want the stored one", token)
	}
	if landingHits.Load() != 0 {
		t.Errorf("store hit must not scrape, landing fetched %d times", landingHits.Load())
	}
}

func TestResolveStoreMissScrapesAndSaves(t *testing.T) {
	srv, _, _ := newFakeSite(t)
	store := &fakeStore{}
	r := NewResolver(srv.URL, srv.Client(), 0, store)

	token, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if token != testEndpoint {
		t.Errorf("token = %q, want %q", token, testEndpoint)
	}
	if len(store.saved) != 1 || store.saved[0] != testEndpoint {
		t.Errorf("scraped token should be saved to the store, saved=%v", store.saved)
	}
}
