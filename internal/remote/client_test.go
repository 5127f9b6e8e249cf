package remote_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"runbox/internal/remote"
	appErr "runbox/pkg/errors"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

const (
	fakeAssetPath = "/static/js/compiler.0badc0de.js"
	fakeEndpoint  = "eptest01"
	fakeDelimiter = "DLMTDLMTDLMTDLMT"
	okMetrics     = "Real time: 0.02 s\nUser time: 0.01 s\nSys. time: 0 s\nCPU share: 50 %\nExit code: 0"
)

// fakeService speaks the real protocol on both legs: the two discovery
// documents and the execution POST with a raw-deflate request body and
// a gzip delimiter-framed reply.
type fakeService struct {
	t         *testing.T
	execDelay time.Duration
	stdout    string
	metrics   string

	mu          sync.Mutex
	landingHits int
	execHits    int
	lastFrame   string
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.landingHits++
		f.mu.Unlock()
		fmt.Fprintf(w, `<html><script src=%q></script></html>`, fakeAssetPath)
	})
	mux.HandleFunc(fakeAssetPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `var EXEC_ENDPOINT = %q;`, fakeEndpoint)
	})
	mux.HandleFunc("/cgi-bin/static/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.execHits++
		f.mu.Unlock()

		compressed, err := io.ReadAll(r.Body)
		if err != nil {
			f.t.Errorf("read exec body: %v", err)
			return
		}
		fr := flate.NewReader(bytes.NewReader(compressed))
		frame, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			f.t.Errorf("exec body is not a raw deflate stream: %v", err)
			return
		}
		f.mu.Lock()
		f.lastFrame = string(frame)
		f.mu.Unlock()

		if f.execDelay > 0 {
			select {
			case <-time.After(f.execDelay):
			case <-r.Context().Done():
				return
			}
		}

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		fmt.Fprint(zw, fakeDelimiter+f.stdout+fakeDelimiter+f.metrics)
		zw.Close()
		w.Write(buf.Bytes())
	})
	return mux
}

func (f *fakeService) counts() (landing, exec int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.landingHits, f.execHits
}

func (f *fakeService) frame() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFrame
}

func newTestClient(t *testing.T, f *fakeService) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := remote.New(remote.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := remote.New(remote.Config{}); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected InvalidParams, got %v", err)
	}
}

func TestRun(t *testing.T) {
	f := &fakeService{t: t, stdout: "hello\n", metrics: okMetrics}
	c := newTestClient(t, f)

	res, err := c.Run(context.Background(), remote.RunRequest{
		Language:      "python",
		Code:          "print('hello')",
		Stdin:         "unused",
		Args:          []string{"x"},
		CompilerFlags: []string{"-O2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Output != "hello\n" {
		t.Errorf("Output = %q, want %q", res.Output, "hello\n")
	}
	if res.TimedOut {
		t.Error("TimedOut must be false")
	}
	if res.RealTime != 0.02 || res.CPUShare != 50 || res.ExitCode != 0 {
		t.Errorf("metrics = %+v", res)
	}

	frame := f.frame()
	for _, part := range []string{
		"args\x001\x00x\x00",
		"lang\x001\x00python3",
		"CFLAGS\x001\x00-O2\x00",
		"OPTIONS\x000\x00",
		"code\x0014\x00print('hello')",
		"input\x006\x00unused",
	} {
		if !strings.Contains(frame, part) {
			t.Errorf("frame missing %q:\n%q", part, frame)
		}
	}

	if c.Active() != 0 {
		t.Errorf("Active() = %d after completion, want 0", c.Active())
	}

	// Second run reuses the resolved endpoint.
	if _, err := c.Run(context.Background(), remote.RunRequest{Language: "python", Code: "pass"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	landing, exec := f.counts()
	if landing != 1 {
		t.Errorf("landing fetched %d times, want 1", landing)
	}
	if exec != 2 {
		t.Errorf("exec hit %d times, want 2", exec)
	}
}

func TestRunTokenOverride(t *testing.T) {
	f := &fakeService{t: t, stdout: "ok", metrics: okMetrics}
	c := newTestClient(t, f)

	if _, err := c.Run(context.Background(), remote.RunRequest{LanguageToken: "weird", Code: "x"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(f.frame(), "lang\x001\x00weird") {
		t.Errorf("override token not on the wire:\n%q", f.frame())
	}
}

func TestRunUnknownLanguage(t *testing.T) {
	f := &fakeService{t: t, metrics: okMetrics}
	c := newTestClient(t, f)

	_, err := c.Run(context.Background(), remote.RunRequest{Language: "cobol", Code: "x"})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if _, exec := f.counts(); exec != 0 {
		t.Error("an unmappable language must not reach the service")
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d, want 0", c.Active())
	}
}

func TestRunTimeout(t *testing.T) {
	f := &fakeService{t: t, execDelay: 5 * time.Second, metrics: okMetrics}
	c := newTestClient(t, f)

	res, err := c.Run(context.Background(), remote.RunRequest{Language: "python", Code: "x", Timeout: time.Millisecond})
	if err != nil {
		t.Fatalf("a timeout is a result, not an error: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("TimedOut must be true")
	}
	if res.ExitCode != 124 {
		t.Errorf("ExitCode = %d, want 124", res.ExitCode)
	}
	if res.CPUShare != 0 {
		t.Errorf("CPUShare = %v, want 0", res.CPUShare)
	}
	// 1ms floors to 500ms; the sentinel carries the enforced value.
	if res.RealTime != 0.5 || res.UserTime != 0.5 || res.SysTime != 0.5 {
		t.Errorf("sentinel times = %v/%v/%v, want 0.5 each", res.RealTime, res.UserTime, res.SysTime)
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d after timeout, want 0", c.Active())
	}
}

func TestRunPreCanceled(t *testing.T) {
	f := &fakeService{t: t, metrics: okMetrics}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, remote.RunRequest{Language: "python", Code: "x"})
	if !appErr.Is(err, appErr.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if landing, _ := f.counts(); landing != 0 {
		t.Error("a pre-fired signal must abort before any network fetch")
	}
}

func TestCancelAll(t *testing.T) {
	f := &fakeService{t: t, execDelay: 10 * time.Second, metrics: okMetrics}
	c := newTestClient(t, f)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Run(context.Background(), remote.RunRequest{Language: "python", Code: "x", Timeout: time.Minute})
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Active() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Active() = %d, want 2 in-flight runs", c.Active())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := c.CancelAll(); n != 2 {
		t.Errorf("CancelAll() = %d, want 2", n)
	}

	for i := 0; i < 2; i++ {
		if err := <-errs; !appErr.Is(err, appErr.Canceled) {
			t.Errorf("run #%d: expected Canceled, got %v", i, err)
		}
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d after CancelAll, want 0", c.Active())
	}
}

func TestRunResolutionErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>no bundle here</html>")
	}))
	defer srv.Close()

	c, err := remote.New(remote.Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Run(context.Background(), remote.RunRequest{Language: "python", Code: "x"})
	if !appErr.Is(err, appErr.ResolvePatternMismatch) {
		t.Fatalf("expected ResolvePatternMismatch, got %v", err)
	}
	if c.Active() != 0 {
		t.Errorf("Active() = %d after failure, want 0", c.Active())
	}
}

func TestRunGrammarDriftPropagates(t *testing.T) {
	f := &fakeService{t: t, stdout: "x", metrics: "Totally new format 1.0"}
	c := newTestClient(t, f)

	_, err := c.Run(context.Background(), remote.RunRequest{Language: "python", Code: "x"})
	if !appErr.Is(err, appErr.ReplyGrammar) {
		t.Fatalf("expected ReplyGrammar, got %v", err)
	}
}
