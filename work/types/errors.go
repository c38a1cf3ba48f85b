package types

import (
	"errors"
	"fmt"
	"strings"
)

// Extraction failure taxonomy. Strategies fail with exactly one of these;
// the orchestrator is the only code that catches and aggregates them.
var (
	// ErrUpstreamUnavailable marks network failures, 5xx responses and
	// timeouts. The next provider in the waterfall is tried.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound marks a reachable upstream that had no usable stream or
	// link for the requested content. Retry policy is identical to
	// ErrUpstreamUnavailable.
	ErrNotFound = errors.New("no stream found")

	// ErrShapeChanged marks a response whose structure no longer matches
	// what the strategy expects. Logged distinctly so operators notice a
	// broken upstream contract, but handled like ErrNotFound.
	ErrShapeChanged = errors.New("unexpected upstream response shape")
)

// ProviderError wraps a taxonomy error with the provider that raised it,
// preserving the cause chain for errors.Is checks.
type ProviderError struct {
	ProviderID string
	Kind       error // one of the taxonomy sentinels above
	Cause      error // underlying detail, may be nil
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.ProviderID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.ProviderID, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// NewProviderError builds a ProviderError for the given provider and kind.
func NewProviderError(providerID string, kind, cause error) *ProviderError {
	return &ProviderError{ProviderID: providerID, Kind: kind, Cause: cause}
}

// ExhaustedError is the terminal waterfall failure: every candidate
// provider was attempted and each one failed. It carries the per-provider
// error log for diagnostics and for the client-facing error message.
type ExhaustedError struct {
	Attempts []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
