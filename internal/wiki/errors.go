package wiki

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed remote call. The dispatcher retries
// Transient failures; everything else is terminal for the operation.
type ErrorKind int

// Remote failure classes.
const (
	// Transient covers network errors, rate limiting, and 5xx responses.
	Transient ErrorKind = iota
	// NotFound means the requested entity does not exist on the remote side.
	NotFound
	// Forbidden means the site refused access to the entity.
	Forbidden
	// Malformed means the response arrived but could not be understood.
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RemoteError is the typed failure returned by Client operations.
type RemoteError struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError wraps err with its classification and call site.
func NewRemoteError(kind ErrorKind, op, url string, err error) *RemoteError {
	return &RemoteError{Kind: kind, Op: op, URL: url, Err: err}
}

// KindOf extracts the error class. Errors that are not RemoteError are
// treated as Transient: the dispatcher retries unknown failures rather
// than assuming they are permanent.
func KindOf(err error) ErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return Transient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == Transient
}

// IsNotFound reports whether err is a NotFound remote failure.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == NotFound
}
