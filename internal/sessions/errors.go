package sessions

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

var (
	// ErrSessionNotFound indicates that no session exists for the identifier.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrInvalidSecret indicates an admin secret that is not 4 to 6 digits.
	ErrInvalidSecret = bill.ErrInvalidSecret
	// ErrIncorrectSecret indicates a well-formed secret that does not match.
	ErrIncorrectSecret = errors.New("sessions: incorrect admin secret")

	errMissingStore      = errors.New("session store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Kind classifies an error for callers that map it onto a response.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Classify maps an error returned by the service onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidSecret),
		errors.Is(err, ErrInvalidSessionID),
		errors.Is(err, bill.ErrInvalidRate),
		errors.Is(err, bill.ErrInvalidQuantity),
		errors.Is(err, bill.ErrInvalidAssignments):
		return KindInvalidInput
	case errors.Is(err, ErrIncorrectSecret):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
