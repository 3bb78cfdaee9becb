package reconcile

import "errors"

// ErrorKind classifies sync failures for retry policy. Transient failures are
// retried with backoff, malformed data is skipped, permanent failures stop
// retrying immediately.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindMalformed
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// SyncError wraps a failure with its retry classification.
type SyncError struct {
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient marks an infrastructure failure worth retrying.
func Transient(err error) error {
	return &SyncError{Kind: KindTransient, Err: err}
}

// Malformed marks unparseable stored data. Retrying cannot help; the
// candidate is skipped and surfaced in the ledger.
func Malformed(err error) error {
	return &SyncError{Kind: KindMalformed, Err: err}
}

// Permanent marks a failure that retrying cannot fix.
func Permanent(err error) error {
	return &SyncError{Kind: KindPermanent, Err: err}
}

// KindOf returns the classification of err. Unclassified errors default to
// transient so unknown infrastructure failures keep their retry budget.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}
