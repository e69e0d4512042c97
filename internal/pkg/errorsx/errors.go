package errorsx

import "errors"

var (
	// Recoverable indicates the operation may succeed if retried
	Recoverable = errors.New("recoverable")
	// Permanent indicates the operation will not succeed upon retry
	Permanent = errors.New("permanent")
)

// Kind identifies the failure class an execution error belongs to.
// Site modules attach a Kind when classifying their own errors.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindStaleElement Kind = "stale_element"
	KindNetwork      Kind = "network"
	KindNavigation   Kind = "navigation"
	KindSession      Kind = "session"
	KindDownload     Kind = "download"
	KindAuth         Kind = "auth"
	KindConfig       Kind = "config"
	KindUnsupported  Kind = "unsupported"
	KindShutdown     Kind = "shutdown"
	KindCancelled    Kind = "cancelled"
	KindUnknown      Kind = "unknown"
)

// kindError carries a Kind alongside the wrapped cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return string(e.kind) + ": " + e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// WithKind tags err with a failure kind
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the failure kind from err, or KindUnknown
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// WrapRecoverable wraps an error as recoverable
func WrapRecoverable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(Recoverable, err)
}

// WrapPermanent wraps an error as permanent
func WrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(Permanent, err)
}

func IsRecoverable(err error) bool {
	return errors.Is(err, Recoverable)
}

func IsPermanent(err error) bool {
	return errors.Is(err, Permanent)
}
