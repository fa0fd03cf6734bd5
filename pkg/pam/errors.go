package pam

import (
	"errors"
	"fmt"
)

// FailKind classifies why an identity could not be resolved or
// verified. It is this package's own outcome vocabulary; directory
// statuses are mapped into it and never travel further.
type FailKind int

const (
	// FailNotFound means the identity does not exist. Handlers signal
	// it with zero result records before the end marker.
	FailNotFound FailKind = iota
	// FailInvalidSyntax means the directory entry is malformed or a
	// value exceeds a field bound.
	FailInvalidSyntax
	// FailUnavailable means the directory could not be consulted.
	FailUnavailable
	// FailLocal means the failure is on our side (template error,
	// unusable search result).
	FailLocal
)

func (k FailKind) String() string {
	switch k {
	case FailNotFound:
		return "not-found"
	case FailInvalidSyntax:
		return "invalid-syntax"
	case FailUnavailable:
		return "unavailable"
	case FailLocal:
		return "local-error"
	default:
		return fmt.Sprintf("fail-kind(%d)", int(k))
	}
}

// ResolveError is returned by identity resolution.
type ResolveError struct {
	Username string
	Kind     FailKind
	Err      error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %q: %s", e.Username, e.Kind)
	}
	return fmt.Sprintf("resolve %q: %s: %v", e.Username, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// FailKindOf extracts the failure kind from a resolution error,
// defaulting to FailLocal for foreign errors.
func FailKindOf(err error) FailKind {
	var rerr *ResolveError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return FailLocal
}
