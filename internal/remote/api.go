// Package remote is the client for the remote code-execution service.
// It resolves the service's ephemeral endpoint, encodes requests into
// the wire format, posts them with timeout and cancellation handling,
// and decodes the compressed reply into structured metrics.
package remote

import (
	"net/http"
	"time"

	"runbox/internal/remote/discovery"
	"runbox/internal/remote/profile"
)

// DefaultTimeout bounds a run when the request carries no timeout.
const DefaultTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL of the execution service. Required.
	BaseURL string

	// Timeout is the default per-run limit; requests may override it.
	// The transport floors every value at its minimum.
	Timeout time.Duration

	// EndpointTTL overrides the endpoint cache lifetime.
	EndpointTTL time.Duration

	// HTTPClient is shared by discovery and execution. Leave the
	// client's own Timeout at zero, the run timer owns that concern.
	HTTPClient *http.Client

	// Store optionally shares resolved endpoints between processes.
	Store discovery.Store

	// MapToken translates internal language ids to service tokens.
	// Defaults to the built-in profile table.
	MapToken func(id string) (string, error)
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.MapToken == nil {
		c.MapToken = profile.Token
	}
}

// RunRequest describes one execution.
type RunRequest struct {
	// Language is the internal id, translated via the token mapper.
	Language string

	// LanguageToken, when set, is sent as-is and skips the mapper.
	LanguageToken string

	Code  string
	Stdin string

	// Args and CompilerFlags are forwarded in order.
	Args          []string
	CompilerFlags []string

	// Timeout for this run; zero selects the client default.
	Timeout time.Duration
}
