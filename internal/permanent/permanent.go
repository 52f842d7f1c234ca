package permanent

import "errors"

// Error marks channel failures that cannot recover by retrying (bad credentials, revoked tokens).
// Params: wrapped root cause and short classification reason.
// Returns: typed unrecoverable error marker.
type Error struct {
	Err    error
	Reason string
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		if e.Reason != "" {
			return "unrecoverable: " + e.Reason
		}
		return "unrecoverable error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent marks error as non-recoverable.
// Params: none.
// Returns: true.
func (Error) Permanent() bool {
	return true
}

// Mark wraps error with unrecoverable marker.
// Params: source error.
// Returns: wrapped error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// MarkAuth wraps authentication-class failure.
// Params: source error.
// Returns: wrapped error tagged with "authentication" reason, or nil.
func MarkAuth(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err, Reason: "authentication"}
}

// Is reports whether error has unrecoverable marker.
// Params: candidate error.
// Returns: true when marker is present in chain.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}

// ReasonOf extracts classification reason from marked error.
// Params: candidate error.
// Returns: reason or empty string.
func ReasonOf(err error) string {
	var typed Error
	if errors.As(err, &typed) {
		return typed.Reason
	}
	return ""
}
