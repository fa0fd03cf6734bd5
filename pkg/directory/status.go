package directory

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Status classifies the outcome of a directory operation. It is the
// only result vocabulary this package exports; LDAP result codes stay
// inside.
type Status int

const (
	// StatusSuccess means the operation completed.
	StatusSuccess Status = iota
	// StatusUnavailable means no directory server could be reached or
	// the server reported itself unable to serve.
	StatusUnavailable
	// StatusInvalidCredentials means the server rejected the bind
	// credentials.
	StatusInvalidCredentials
	// StatusNotFound means the named entry does not exist.
	StatusNotFound
	// StatusInvalidSyntax means the server rejected a malformed DN or
	// attribute value.
	StatusInvalidSyntax
	// StatusNoResults means a required lookup matched nothing.
	StatusNoResults
	// StatusLocalError means the failure originated on our side
	// (encoding, local I/O) rather than from a server verdict.
	StatusLocalError
	// StatusServerError covers every other server-reported failure.
	StatusServerError
)

// String returns a short lowercase label for logging.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnavailable:
		return "unavailable"
	case StatusInvalidCredentials:
		return "invalid-credentials"
	case StatusNotFound:
		return "not-found"
	case StatusInvalidSyntax:
		return "invalid-syntax"
	case StatusNoResults:
		return "no-results"
	case StatusLocalError:
		return "local-error"
	case StatusServerError:
		return "server-error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error is the error type every directory operation returns. Op names
// the failed operation, Status classifies it, and Err preserves the
// underlying cause for logging.
type Error struct {
	Op     string
	Status Status
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("directory: %s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("directory: %s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf extracts the Status from an error returned by this
// package. A nil error is StatusSuccess; an unrelated error is
// StatusLocalError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Status
	}
	return StatusLocalError
}

// mapError wraps err as a directory Error for op, translating LDAP
// result codes into the closed Status set.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Status: classify(err), Err: err}
}

func classify(err error) Status {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return StatusInvalidCredentials
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return StatusNotFound
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidDNSyntax),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidAttributeSyntax):
		return StatusInvalidSyntax
	case ldap.IsErrorWithCode(err, ldap.LDAPResultBusy),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform),
		ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return StatusUnavailable
	case ldap.IsErrorWithCode(err, ldap.ErrorUnexpectedResponse),
		ldap.IsErrorWithCode(err, ldap.ErrorEmptyPassword):
		return StatusInvalidCredentials
	}
	var lerr *ldap.Error
	if errors.As(err, &lerr) {
		return StatusServerError
	}
	// Dial failures and other transport errors never carry an LDAP
	// result code.
	return StatusUnavailable
}
