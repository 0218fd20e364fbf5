package ils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures so callers can tell an
// unreachable backend apart from an expected business outcome.
type ErrorKind string

const (
	// KindTransport covers network failures and timeouts. Retryable at
	// a higher layer, never to be treated as a business failure.
	KindTransport ErrorKind = "transport"
	// KindAuthentication means the patron credentials were rejected.
	KindAuthentication ErrorKind = "authentication"
	// KindConsistency means the fee balance changed between pay and
	// confirm time. Expected, not exceptional.
	KindConsistency ErrorKind = "consistency"
	// KindBackendRejection means the ILS refused a write. The backend
	// message is retained for support diagnosis.
	KindBackendRejection ErrorKind = "backend_rejection"
	// KindConfiguration means a source or driver could not be resolved.
	KindConfiguration ErrorKind = "configuration"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func TransportError(message string, err error) *Error {
	return NewError(KindTransport, message, err)
}

func AuthenticationError(message string) *Error {
	return NewError(KindAuthentication, message, nil)
}

func ConsistencyError(message string) *Error {
	return NewError(KindConsistency, message, nil)
}

func BackendRejection(message string) *Error {
	return NewError(KindBackendRejection, message, nil)
}

func ConfigurationError(message string) *Error {
	return NewError(KindConfiguration, message, nil)
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
