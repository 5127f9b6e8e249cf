// Package transport performs the execution POST with an enforced
// timeout floor and cooperative external cancellation.
package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	appErr "runbox/pkg/errors"
)

// MinTimeout is the floor applied to every execution call. The service
// never answers faster, so shorter limits would only abort calls that
// were going to succeed.
const MinTimeout = 500 * time.Millisecond

// Abort classifications. Zero means the call completed on its own.
const (
	reasonNone int32 = iota
	reasonTimedOut
	reasonCanceled
)

// EffectiveTimeout returns the requested timeout with the floor
// enforced: max(MinTimeout, requested).
func EffectiveTimeout(requested time.Duration) time.Duration {
	if requested < MinTimeout {
		return MinTimeout
	}
	return requested
}

// Executor posts encoded request bodies to the resolved endpoint.
type Executor struct {
	baseURL string
	httpc   *http.Client
}

// NewExecutor creates an executor for the service at baseURL. httpc may
// be nil for http.DefaultClient.
func NewExecutor(baseURL string, httpc *http.Client) *Executor {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Executor{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc}
}

// Execute POSTs body to the endpoint and returns the compressed reply.
//
// timedOut reports that the internal timer aborted the call; that is a
// normal outcome, not an error. ctx carries the external cancellation
// signal: when it aborts the call first the error is Canceled, never a
// timeout. A pre-fired signal is rejected before any call is made.
func (e *Executor) Execute(ctx context.Context, endpoint string, body []byte, timeout time.Duration) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, appErr.Wrap(err, appErr.Canceled)
	}

	url, err := e.callURL(endpoint)
	if err != nil {
		return nil, false, err
	}

	// callCtx aborts the in-flight call; reason records who asked and
	// is always written before the abort is issued. First writer wins,
	// later signals are no-ops.
	callCtx, abort := context.WithCancel(context.Background())
	defer abort()

	var reason atomic.Int32
	timer := time.NewTimer(EffectiveTimeout(timeout))
	defer timer.Stop()
	finished := make(chan struct{})
	defer close(finished)

	go func() {
		select {
		case <-timer.C:
			reason.CompareAndSwap(reasonNone, reasonTimedOut)
			abort()
		case <-ctx.Done():
			// The timer may have fired in the same tick; it keeps the
			// classification unless the external signal was strictly
			// first.
			select {
			case <-timer.C:
				reason.CompareAndSwap(reasonNone, reasonTimedOut)
			default:
				reason.CompareAndSwap(reasonNone, reasonCanceled)
			}
			abort()
		case <-finished:
		}
	}()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.RequestFailed)
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return classify(err, &reason)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, appErr.Newf(appErr.UpstreamStatus, "execution endpoint returned status %d", resp.StatusCode)
	}

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(err, &reason)
	}
	return reply, false, nil
}

// classify attributes a failed call to its recorded abort cause.
// Failures with no recorded cause are plain transport errors.
func classify(err error, reason *atomic.Int32) ([]byte, bool, error) {
	switch reason.Load() {
	case reasonTimedOut:
		return nil, true, nil
	case reasonCanceled:
		return nil, false, appErr.Wrap(err, appErr.Canceled)
	default:
		return nil, false, appErr.Wrap(err, appErr.RequestFailed)
	}
}

// callURL appends the execution path and a fresh 16-byte hex suffix.
// The random suffix defeats intermediary caches.
func (e *Executor) callURL(endpoint string) (string, error) {
	var buster [16]byte
	if _, err := rand.Read(buster[:]); err != nil {
		return "", appErr.Wrap(err, appErr.RequestFailed)
	}
	return fmt.Sprintf("%s/cgi-bin/static/%s/%s", e.baseURL, endpoint, hex.EncodeToString(buster[:])), nil
}
