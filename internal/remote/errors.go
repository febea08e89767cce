package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited indicates the service answered 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen indicates the breaker rejected the call without trying.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrMissingAPIKey indicates the client was built without credentials.
	ErrMissingAPIKey = errors.New("missing API key")
)

// ExternalCallError is returned for any failed call to a generative or
// embedding service, after retries are exhausted.
type ExternalCallError struct {
	Service    string // e.g. "anthropic", "openai"
	Op         string // e.g. "messages", "embeddings"
	StatusCode int    // 0 when no HTTP response was received
	Err        error
}

func (e *ExternalCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// IsExternal reports whether err came from an external model service.
func IsExternal(err error) bool {
	var ext *ExternalCallError
	return errors.As(err, &ext)
}

// StatusError carries a non-2xx response. Body is truncated.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrRateLimited) match a 429.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}
