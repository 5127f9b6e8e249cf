package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"runbox/internal/relay/repository"
	"runbox/internal/remote"
	"runbox/internal/remote/result"
	appErr "runbox/pkg/errors"
)

type stubRunner struct {
	block  chan struct{}
	res    result.RunResult
	err    error
	active atomic.Int32
}

func (s *stubRunner) Run(ctx context.Context, req remote.RunRequest) (result.RunResult, error) {
	s.active.Add(1)
	defer s.active.Add(-1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return result.RunResult{}, appErr.New(appErr.Canceled)
		}
	}
	return s.res, s.err
}

func (s *stubRunner) CancelAll() int { return 0 }
func (s *stubRunner) Active() int    { return int(s.active.Load()) }

type fakeHistory struct {
	mu        sync.Mutex
	items     []repository.Execution
	insertErr error
}

func (f *fakeHistory) Insert(ctx context.Context, exec *repository.Execution) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, *exec)
	return nil
}

func (f *fakeHistory) List(ctx context.Context, page, pageSize int) ([]repository.Execution, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.Execution(nil), f.items...), int64(len(f.items)), nil
}

func waitForActive(t *testing.T, runner *stubRunner, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for runner.Active() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Active() = %d, want %d", runner.Active(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecuteRecordsHistory(t *testing.T) {
	runner := &stubRunner{res: result.RunResult{Output: "hi", RealTime: 0.12, CPUShare: 33.3}}
	hist := &fakeHistory{}
	svc := NewRelayService(runner, hist, Config{})

	res, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "print('hi')"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hi" {
		t.Errorf("Output = %q, want hi", res.Output)
	}

	items, total, err := svc.History(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("recorded %d/%d executions, want 1", len(items), total)
	}
	got := items[0]
	if got.ExecutionID == "" {
		t.Error("execution id must be assigned")
	}
	if got.Language != "python" || got.Output != "hi" || got.RealTime != 0.12 {
		t.Errorf("recorded execution = %+v", got)
	}
}

func TestExecuteQueueFull(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	svc := NewRelayService(runner, nil, Config{MaxConcurrent: 1, AdmissionWait: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "x"})
		done <- err
	}()
	waitForActive(t, runner, 1)

	_, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "y"})
	if !appErr.Is(err, appErr.QueueFull) {
		t.Fatalf("expected QueueFull, got %v", err)
	}

	close(runner.block)
	if err := <-done; err != nil {
		t.Fatalf("holder run failed: %v", err)
	}
}

func TestExecuteCanceledWhileWaiting(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	svc := NewRelayService(runner, nil, Config{MaxConcurrent: 1, AdmissionWait: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "x"})
		done <- err
	}()
	waitForActive(t, runner, 1)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := svc.Execute(ctx, ExecuteInput{Language: "python", Code: "y"})
	if !appErr.Is(err, appErr.Canceled) {
		t.Fatalf("a caller abort while waiting must read as Canceled, got %v", err)
	}

	close(runner.block)
	<-done
}

func TestExecuteHistoryFailureDoesNotFailRun(t *testing.T) {
	runner := &stubRunner{res: result.RunResult{Output: "ok"}}
	hist := &fakeHistory{insertErr: errors.New("db down")}
	svc := NewRelayService(runner, hist, Config{})

	res, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "x"})
	if err != nil {
		t.Fatalf("Execute must succeed despite a history failure: %v", err)
	}
	if res.Output != "ok" {
		t.Errorf("Output = %q, want ok", res.Output)
	}
}

func TestExecuteRunErrorSkipsHistory(t *testing.T) {
	runner := &stubRunner{err: appErr.New(appErr.ResolveFetchFailed)}
	hist := &fakeHistory{}
	svc := NewRelayService(runner, hist, Config{})

	_, err := svc.Execute(context.Background(), ExecuteInput{Language: "python", Code: "x"})
	if !appErr.Is(err, appErr.ResolveFetchFailed) {
		t.Fatalf("expected ResolveFetchFailed, got %v", err)
	}
	if _, total, _ := hist.List(context.Background(), 1, 10); total != 0 {
		t.Errorf("failed runs must not be recorded, got %d", total)
	}
}

func TestHistoryDisabled(t *testing.T) {
	svc := NewRelayService(&stubRunner{}, nil, Config{})
	if _, _, err := svc.History(context.Background(), 1, 10); !appErr.Is(err, appErr.HistoryUnavailable) {
		t.Fatalf("expected HistoryUnavailable, got %v", err)
	}
}
