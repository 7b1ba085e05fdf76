// Package perr collects the pipeline's typed error taxonomy so callers can
// branch on error kind with errors.As instead of string matching.
package perr

import "errors"

// Kind classifies a pipeline error for surfacing decisions (retry, alert,
// 4xx vs 5xx at the push adapter, etc).
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindUpstream      Kind = "upstream"
	KindConflict      Kind = "conflict"
	KindUnavailable   Kind = "unavailable"
	KindInternal      Kind = "internal"
)

// Sentinel errors for common conditions; wrap with fmt.Errorf("...: %w", ErrX)
// at the call site and classify with ClassOf below or errors.As.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrStreamNotFound   = errors.New("stream not found")
	ErrSignalNotFound   = errors.New("signal not found")
	ErrStreamDisabled   = errors.New("stream disabled")
	ErrAuthMissing      = errors.New("authentication credentials missing")
	ErrAuthExpired      = errors.New("authentication credentials expired")
	ErrTokenRefreshBusy = errors.New("token refresh already in flight")
	ErrInvalidBatch     = errors.New("invalid batch payload")
	ErrConfigField      = errors.New("required config field missing")
	ErrDeviceIDMissing  = errors.New("device id missing")
)

// PipelineError wraps an underlying error with a Kind for dispatch at the
// edges (HTTP status codes, retry vs. drop, pipeline_activity rows).
type PipelineError struct {
	Kind Kind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Wrap creates a PipelineError of the given kind around err. Returns nil if
// err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Err: err}
}

// ClassOf returns the Kind of err if it is (or wraps) a *PipelineError, and
// KindInternal otherwise.
func ClassOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Retryable reports whether a pipeline error's class is worth retrying per
// the sync-runtime failure-class table: upstream and unavailable errors are
// retried with backoff, the rest are not.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case KindUpstream, KindUnavailable:
		return true
	default:
		return false
	}
}
