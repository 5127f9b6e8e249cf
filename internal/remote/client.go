package remote

import (
	"context"
	"sync"

	"runbox/internal/remote/discovery"
	"runbox/internal/remote/result"
	"runbox/internal/remote/transport"
	"runbox/internal/remote/wire"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/contextkey"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client runs code on the remote execution service. Runs may proceed
// concurrently; every in-flight run is tracked so CancelAll can abort
// all of them at once.
type Client struct {
	cfg      Config
	resolver *discovery.Resolver
	executor *transport.Executor
	mapToken func(string) (string, error)

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, appErr.BadRequest("base URL is required")
	}
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		resolver: discovery.NewResolver(cfg.BaseURL, cfg.HTTPClient, cfg.EndpointTTL, cfg.Store),
		executor: transport.NewExecutor(cfg.BaseURL, cfg.HTTPClient),
		mapToken: cfg.MapToken,
		active:   make(map[string]context.CancelFunc),
	}, nil
}

// Run executes req and returns the decoded result.
//
// A fired internal timer yields a timed-out result with sentinel
// metrics, not an error. ctx is the external cancellation signal;
// CancelAll aborts the run the same way. A signal fired before entry is
// rejected before any network call.
func (c *Client) Run(ctx context.Context, req RunRequest) (result.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return result.RunResult{}, appErr.Wrap(err, appErr.Canceled)
	}

	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	c.register(id, cancel)
	defer c.unregister(id)
	runCtx = context.WithValue(runCtx, contextkey.InvocationID, id)

	token := req.LanguageToken
	if token == "" {
		var err error
		token, err = c.mapToken(req.Language)
		if err != nil {
			return result.RunResult{}, err
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	endpoint, err := c.resolver.Resolve(runCtx)
	if err != nil {
		return result.RunResult{}, err
	}

	body, err := wire.EncodeBody(token, req.Code, req.Stdin, req.Args, req.CompilerFlags)
	if err != nil {
		return result.RunResult{}, err
	}

	logger.Debug(runCtx, "executing remotely",
		zap.String("language", token),
		zap.String("endpoint", endpoint),
		zap.Int("code_bytes", len(req.Code)),
		zap.Duration("timeout", timeout),
	)

	reply, timedOut, err := c.executor.Execute(runCtx, endpoint, body, timeout)
	if err != nil {
		return result.RunResult{}, err
	}
	if timedOut {
		elapsed := transport.EffectiveTimeout(timeout)
		logger.Info(runCtx, "execution timed out", zap.Duration("after", elapsed))
		return result.Timeout(elapsed), nil
	}

	return wire.DecodeResult(reply)
}

// CancelAll aborts every in-flight run and reports how many were
// signaled. Aborted runs fail with Canceled, never as timeouts.
func (c *Client) CancelAll() int {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.active))
	for _, cancel := range c.active {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Active reports the number of in-flight runs.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Invalidate drops the cached endpoint; the next run rediscovers it.
func (c *Client) Invalidate() {
	c.resolver.Invalidate()
}

func (c *Client) register(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[id] = cancel
}

// unregister runs on every outcome, success or failure, so the
// registry never leaks an entry.
func (c *Client) unregister(id string) {
	c.mu.Lock()
	cancel, ok := c.active[id]
	delete(c.active, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}
