package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Endpoint discovery errors
// 12000-12999: Upstream transport errors
// 13000-13999: Cancellation
// 14000-14999: Reply decoding errors
// 15000-15999: Language profile errors
// 16000-16999: Relay service errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007

	// Authentication (10100-10199)
	TokenExpired ErrorCode = 10100
	TokenInvalid ErrorCode = 10101

	// ========== Endpoint Discovery Errors (11000-11999) ==========

	// Fetching the landing page or the versioned asset failed, or the
	// fixed extraction pattern found no match. Never retried internally.
	ResolveFetchFailed     ErrorCode = 11000
	ResolvePatternMismatch ErrorCode = 11001

	// ========== Upstream Transport Errors (12000-12999) ==========

	// RequestFailed covers network-level failures not attributable to a
	// timeout or an external cancellation; UpstreamStatus covers non-OK
	// HTTP statuses from the execution endpoint.
	RequestFailed  ErrorCode = 12000
	UpstreamStatus ErrorCode = 12001

	// ========== Cancellation (13000-13999) ==========

	// Canceled is raised only when the external cancellation signal, not
	// the internal timer, aborted the call. A fired timer is a normal
	// timed-out result, never an error.
	Canceled ErrorCode = 13000

	// ========== Reply Decoding Errors (14000-14999) ==========

	ReplyNotGzip   ErrorCode = 14000
	ReplyTruncated ErrorCode = 14001
	ReplyGrammar   ErrorCode = 14002

	// ========== Language Profile Errors (15000-15999) ==========

	LanguageNotSupported ErrorCode = 15000

	// ========== Relay Service Errors (16000-16999) ==========

	QueueFull          ErrorCode = 16000
	HistoryUnavailable ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",

	// Authentication
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Endpoint discovery
	ResolveFetchFailed:     "Failed to fetch endpoint discovery document",
	ResolvePatternMismatch: "Endpoint discovery pattern not found",

	// Upstream transport
	RequestFailed:  "Upstream request failed",
	UpstreamStatus: "Upstream returned an unexpected status",

	// Cancellation
	Canceled: "Execution canceled",

	// Reply decoding
	ReplyNotGzip:   "Reply is not a valid gzip stream",
	ReplyTruncated: "Reply shorter than the delimiter frame",
	ReplyGrammar:   "Reply diagnostics block does not match the expected grammar",

	// Language profile
	LanguageNotSupported: "Programming language not supported",

	// Relay
	QueueFull:          "Execution queue is full, please try again later",
	HistoryUnavailable: "Execution history is not configured",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == HistoryUnavailable:
		return 404
	case c == TooManyRequests, c == QueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == InvalidParams, c == Canceled, c == LanguageNotSupported:
		return 400
	case c >= 11000 && c < 12000: // Discovery errors: upstream is misbehaving
		return 502
	case c >= 12000 && c < 13000: // Transport errors
		return 502
	case c >= 14000 && c < 15000: // Reply decoding errors signal protocol drift
		return 502
	default:
		return 500
	}
}
