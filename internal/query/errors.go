package query

import (
	"errors"
	"fmt"
)

// Kind enumerates every way a pipeline run can terminate without data.
type Kind int

const (
	KindIntrospection Kind = iota + 1
	KindGeneration
	KindParse
	KindRejected
	KindSecurity
	KindPermission
	KindTimeout
	KindExecution
)

// Kinds lists every defined kind, in pipeline order.
var Kinds = []Kind{
	KindIntrospection,
	KindGeneration,
	KindParse,
	KindRejected,
	KindSecurity,
	KindPermission,
	KindTimeout,
	KindExecution,
}

func (k Kind) String() string {
	switch k {
	case KindIntrospection:
		return "introspection_error"
	case KindGeneration:
		return "generation_error"
	case KindParse:
		return "parse_error"
	case KindRejected:
		return "rejected"
	case KindSecurity:
		return "security_error"
	case KindPermission:
		return "permission_error"
	case KindTimeout:
		return "timeout_error"
	case KindExecution:
		return "execution_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Denial reports whether the kind is an access-control denial that must be
// audited separately from ordinary failures.
func (k Kind) Denial() bool {
	return k == KindSecurity || k == KindPermission
}

// Error is the single error type produced by the pipeline.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Errorf builds an Error with a formatted reason and no cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind carried by err, or 0 when err is not a pipeline error.
func KindOf(err error) Kind {
	var qerr *Error
	if errors.As(err, &qerr) && qerr != nil {
		return qerr.Kind
	}
	return 0
}
