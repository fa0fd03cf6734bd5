// Package directory provides the LDAP session capability used by the
// PAM request handlers.
//
// A Session is an ephemeral, single-purpose capability: it is dialed
// and bound with one fixed credential tuple at creation, used for one
// verify/search/modify operation, and closed. Sessions are never
// shared between concurrent handlers and never rebound to a different
// identity; a compromised or wrong credential can affect only the one
// operation its session was created for.
//
// Directory result codes never leak out of this package: every
// operation reports a Status from the closed set below, and callers
// map Status onto their own outcome codes at their boundary.
package directory

import (
	"context"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Scope selects the depth of a search.
type Scope int

const (
	// ScopeBase searches only the base entry itself.
	ScopeBase Scope = iota
	// ScopeSubtree searches the base entry and its whole subtree.
	ScopeSubtree
)

// Credentials is the fixed credential tuple a Session is created
// with. An empty DN requests the daemon's own configured identity;
// the secret is never logged.
type Credentials struct {
	DN     string
	Secret string
}

// Entry is a minimal read-only view of a directory entry.
type Entry struct {
	DN         string
	attributes map[string][]string
}

// NewEntry builds an Entry; primarily useful for tests and fakes.
func NewEntry(dn string, attributes map[string][]string) *Entry {
	return &Entry{DN: dn, attributes: attributes}
}

// AttributeValue returns the first value of the named attribute, or
// the empty string when absent.
func (e *Entry) AttributeValue(name string) string {
	values := e.attributes[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// AttributeValues returns all values of the named attribute.
func (e *Entry) AttributeValues(name string) []string {
	return e.attributes[name]
}

// RDNValue returns the value of the entry's naming component when its
// attribute type matches name (case-insensitive), or the empty string.
func (e *Entry) RDNValue(name string) string {
	dn, err := ldap.ParseDN(e.DN)
	if err != nil || len(dn.RDNs) == 0 {
		return ""
	}
	for _, attr := range dn.RDNs[0].Attributes {
		if strings.EqualFold(attr.Type, name) {
			return attr.Value
		}
	}
	return ""
}

// Session is a bound directory connection capability.
//
// All methods are synchronous; the connection-level timeout configured
// at dial time is the only bound on their duration. A Session must be
// closed on every exit path, including error paths.
type Session interface {
	// Search runs a search and returns the matched entries. A search
	// that matches nothing returns an empty slice and a nil error;
	// "no match" is an outcome, not a directory failure.
	Search(base string, scope Scope, filter string, attributes []string) ([]*Entry, error)

	// PasswordModify issues the password-modify extended operation for
	// targetDN. An empty oldSecret omits the old password from the
	// request (administrative change).
	PasswordModify(targetDN, oldSecret, newSecret string) error

	// ModifyReplace replaces the values of a single attribute on dn.
	ModifyReplace(dn, attribute string, values []string) error

	// Close releases the underlying connection. Safe to call once.
	Close()
}

// Opener creates Sessions. The daemon has exactly one Opener (the
// LDAP client pool-less dialer below); tests substitute fakes.
type Opener interface {
	// Open dials the directory and binds with the given credentials.
	// Failure to reach any configured server reports
	// StatusUnavailable; a rejected bind reports the mapped bind
	// status (typically StatusInvalidCredentials).
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// EscapeFilter escapes a raw value for safe inclusion in a search
// filter per RFC 4515. Every untrusted value must pass through this
// before reaching a filter string.
func EscapeFilter(value string) string {
	return ldap.EscapeFilter(value)
}
