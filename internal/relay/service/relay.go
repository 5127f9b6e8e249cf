package service

import (
	"context"
	"time"

	"runbox/internal/relay/repository"
	"runbox/internal/remote"
	"runbox/internal/remote/profile"
	"runbox/internal/remote/result"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxConcurrent = 8
	defaultAdmissionWait = 2 * time.Second
	historyWriteTimeout  = 3 * time.Second
)

// Runner is the upstream execution surface the relay fronts.
type Runner interface {
	Run(ctx context.Context, req remote.RunRequest) (result.RunResult, error)
	CancelAll() int
	Active() int
}

// History is the optional persistence sink for finished runs.
type History interface {
	Insert(ctx context.Context, exec *repository.Execution) error
	List(ctx context.Context, page, pageSize int) ([]repository.Execution, int64, error)
}

// Config tunes the relay service.
type Config struct {
	MaxConcurrent int           // concurrent upstream runs
	AdmissionWait time.Duration // how long a request may wait for a free slot
}

// RelayService fronts the remote runner with admission control and history.
type RelayService struct {
	runner        Runner
	limiter       *runLimiter
	history       History
	admissionWait time.Duration
}

// NewRelayService creates a relay service. history may be nil when the
// deployment runs without a database.
func NewRelayService(runner Runner, history History, cfg Config) *RelayService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = defaultAdmissionWait
	}
	return &RelayService{
		runner:        runner,
		limiter:       newRunLimiter(cfg.MaxConcurrent),
		history:       history,
		admissionWait: cfg.AdmissionWait,
	}
}

// ExecuteInput carries one run request.
type ExecuteInput struct {
	Language      string
	LanguageToken string
	Code          string
	Stdin         string
	Args          []string
	CompilerFlags []string
	Timeout       time.Duration
}

// Execute admits, runs, and records one execution. When every slot stays
// busy past the admission wait the request is rejected rather than queued
// indefinitely.
func (s *RelayService) Execute(ctx context.Context, input ExecuteInput) (result.RunResult, error) {
	admitCtx, cancel := context.WithTimeout(ctx, s.admissionWait)
	err := s.limiter.Acquire(admitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return result.RunResult{}, appErr.New(appErr.Canceled)
		}
		return result.RunResult{}, appErr.New(appErr.QueueFull)
	}
	defer s.limiter.Release()

	res, err := s.runner.Run(ctx, remote.RunRequest{
		Language:      input.Language,
		LanguageToken: input.LanguageToken,
		Code:          input.Code,
		Stdin:         input.Stdin,
		Args:          input.Args,
		CompilerFlags: input.CompilerFlags,
		Timeout:       input.Timeout,
	})
	if err != nil {
		return result.RunResult{}, err
	}

	s.record(ctx, input, res)
	return res, nil
}

// record persists the run best-effort; a history failure never fails the run.
func (s *RelayService) record(ctx context.Context, input ExecuteInput, res result.RunResult) {
	if s.history == nil {
		return
	}

	language := input.Language
	if language == "" {
		language = input.LanguageToken
	}

	// Detached from the request lifetime so a client disconnect right
	// after the run finishes does not lose the record.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	exec := &repository.Execution{
		ExecutionID: uuid.NewString(),
		Language:    language,
		Code:        input.Code,
		Output:      res.Output,
		ExitCode:    res.ExitCode,
		TimedOut:    res.TimedOut,
		RealTime:    res.RealTime,
		UserTime:    res.UserTime,
		SysTime:     res.SysTime,
		CPUShare:    res.CPUShare,
	}
	if err := s.history.Insert(recordCtx, exec); err != nil {
		logger.Warn(ctx, "history insert failed",
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err),
		)
	}
}

// Languages lists the supported language identifiers.
func (s *RelayService) Languages() []string {
	return profile.Supported()
}

// CancelActive signals every in-flight run and returns how many were signalled.
func (s *RelayService) CancelActive() int {
	return s.runner.CancelAll()
}

// ActiveRuns reports the number of in-flight runs.
func (s *RelayService) ActiveRuns() int {
	return s.runner.Active()
}

// History returns a page of recorded executions, newest first.
func (s *RelayService) History(ctx context.Context, page, pageSize int) ([]repository.Execution, int64, error) {
	if s.history == nil {
		return nil, 0, appErr.New(appErr.HistoryUnavailable)
	}
	return s.history.List(ctx, page, pageSize)
}
