package authz

import "errors"

var (
	// ErrInvalidPrincipal means the verified claims cannot identify an actor.
	// It is an authentication failure, never a denial.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrDecisionUnavailable wraps every failure to obtain a verdict from the
	// decision point. Callers must not turn it into an allow or a deny.
	ErrDecisionUnavailable = errors.New("decision point unavailable")

	// ErrUnsupportedValue is returned for attribute shapes outside the
	// string, number, bool and string-set set.
	ErrUnsupportedValue = errors.New("unsupported attribute value")
)
