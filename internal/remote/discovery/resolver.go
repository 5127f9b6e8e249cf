// Package discovery resolves the execution service's ephemeral endpoint
// token by scraping two remote documents.
package discovery

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultTTL balances staleness risk against repeated scrape cost; the
// upstream rotates the endpoint roughly every quarter hour.
const DefaultTTL = 14 * time.Minute

// assetPattern extracts the versioned static asset path from the
// landing page; endpointPattern extracts the execution path constant
// assigned inside that asset. Both are fixed: when the upstream markup
// drifts, resolution fails loudly instead of guessing.
var (
	assetPattern    = regexp.MustCompile(`src="(/static/js/compiler\.[0-9a-f]+\.js)"`)
	endpointPattern = regexp.MustCompile(`EXEC_ENDPOINT\s*=\s*"([0-9a-zA-Z_-]+)"`)
)

// Store shares resolved endpoints between processes. Load reports the
// token with its remaining lifetime; Save persists a fresh token.
// Implementations are best-effort, a failed Load just falls through to
// a scrape.
type Store interface {
	Load(ctx context.Context) (token string, ttl time.Duration, ok bool)
	Save(ctx context.Context, token string, ttl time.Duration)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// Resolver discovers and caches the execution endpoint token.
//
// The cache is deliberately lock-free: two callers that both see an
// expired entry may both scrape, and the last write wins. The tokens
// are identical, so the only cost is a redundant round trip.
type Resolver struct {
	baseURL string
	httpc   *http.Client
	ttl     time.Duration
	store   Store

	cached atomic.Pointer[entry]
	now    func() time.Time
}

// NewResolver creates a resolver for the service at baseURL. httpc may
// be nil for http.DefaultClient, ttl <= 0 selects DefaultTTL, store may
// be nil for purely in-process caching.
func NewResolver(baseURL string, httpc *http.Client, ttl time.Duration, store Store) *Resolver {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		ttl:     ttl,
		store:   store,
		now:     time.Now,
	}
}

// Resolve returns a usable endpoint token, scraping only when the
// cached value is absent or expired. Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if e := r.cached.Load(); e != nil && r.now().Before(e.expiresAt) {
		return e.token, nil
	}

	if r.store != nil {
		if token, ttl, ok := r.store.Load(ctx); ok && token != "" && ttl > 0 {
			r.cached.Store(&entry{token: token, expiresAt: r.now().Add(ttl)})
			return token, nil
		}
	}

	token, err := r.scrape(ctx)
	if err != nil {
		return "", err
	}
	r.cached.Store(&entry{token: token, expiresAt: r.now().Add(r.ttl)})
	if r.store != nil {
		r.store.Save(ctx, token, r.ttl)
	}
	logger.Info(ctx, "execution endpoint resolved", zap.String("endpoint", token))
	return token, nil
}

// Invalidate drops the cached endpoint; the next Resolve scrapes again.
func (r *Resolver) Invalidate() {
	r.cached.Store(nil)
}

func (r *Resolver) scrape(ctx context.Context) (string, error) {
	landing, err := r.fetch(ctx, r.baseURL+"/")
	if err != nil {
		return "", err
	}
	m := assetPattern.FindSubmatch(landing)
	if m == nil {
		return "", appErr.New(appErr.ResolvePatternMismatch).WithDetail("document", "landing")
	}

	asset, err := r.fetch(ctx, r.baseURL+string(m[1]))
	if err != nil {
		return "", err
	}
	m = endpointPattern.FindSubmatch(asset)
	if m == nil {
		return "", appErr.New(appErr.ResolvePatternMismatch).WithDetail("document", "asset")
	}
	return string(m[1]), nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ResolveFetchFailed)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		// An abort caused by the caller is a cancellation, not a
		// discovery failure.
		if ctx.Err() != nil {
			return nil, appErr.Wrap(err, appErr.Canceled)
		}
		return nil, appErr.Wrap(err, appErr.ResolveFetchFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, appErr.Newf(appErr.ResolveFetchFailed, "discovery fetch %s returned status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ResolveFetchFailed)
	}
	return data, nil
}
