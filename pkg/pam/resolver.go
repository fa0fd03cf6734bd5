package pam

import (
	"fmt"
	"strings"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/internal/protocol/nslcd"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// Identity is a canonical (username, DN) pair produced by resolution.
// Both fields are always populated on success.
type Identity struct {
	Username string
	DN       string
}

// Resolver turns a requested username, with an optionally
// pre-resolved DN, into a canonical Identity by directory lookup.
type Resolver struct {
	cfg config.DirectoryConfig
}

// NewResolver builds a Resolver over the directory configuration.
func NewResolver(cfg config.DirectoryConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve validates username and fills in the DN when requestDN is
// empty. A non-empty requestDN is trusted from a prior lookup in the
// same request and skips the directory round-trip entirely.
//
// The canonical username is taken from the entry's naming component
// when its attribute type matches the configured name attribute, and
// otherwise from the attribute's first value. When it differs from
// the requested name the canonical value wins and the change is
// logged; this is normalization, not an error.
func (r *Resolver) Resolve(session directory.Session, username, requestDN string) (Identity, error) {
	if !IsValidName(username) {
		logger.Warn("invalid user name", logger.Username(username))
		return Identity{}, &ResolveError{Username: username, Kind: FailNotFound,
			Err: fmt.Errorf("invalid user name")}
	}
	if requestDN != "" {
		return Identity{Username: username, DN: requestDN}, nil
	}

	entry, err := r.lookup(session, username)
	if err != nil {
		return Identity{}, err
	}
	if entry == nil {
		logger.Warn("user not found", logger.Username(username))
		return Identity{}, &ResolveError{Username: username, Kind: FailNotFound}
	}
	// An entry whose DN is the literal string "unknown" is a
	// malformed directory record, not a resolvable user.
	if strings.EqualFold(entry.DN, "unknown") {
		logger.Warn("user entry has no usable DN", logger.Username(username))
		return Identity{}, &ResolveError{Username: username, Kind: FailNotFound,
			Err: fmt.Errorf("entry has no usable DN")}
	}

	canonical := entry.RDNValue(r.cfg.UserNameAttribute)
	if canonical == "" {
		values := entry.AttributeValues(r.cfg.UserNameAttribute)
		if len(values) == 0 {
			logger.Warn("entry is missing the username attribute",
				logger.Username(username), logger.DN(entry.DN),
				"attribute", r.cfg.UserNameAttribute)
		} else {
			canonical = values[0]
		}
	}
	if canonical == "" || !IsValidName(canonical) || len(canonical) >= nslcd.MaxUsernameLen {
		logger.Warn("entry has an invalid username",
			logger.Username(username), logger.DN(entry.DN))
		return Identity{}, &ResolveError{Username: username, Kind: FailInvalidSyntax,
			Err: fmt.Errorf("entry %s has an invalid username", entry.DN)}
	}
	if canonical != username {
		logger.Info("username changed", "from", username, "to", canonical)
	}
	return Identity{Username: canonical, DN: entry.DN}, nil
}

// lookup searches the configured bases for the user entry. The first
// match wins; no match returns (nil, nil).
func (r *Resolver) lookup(session directory.Session, username string) (*directory.Entry, error) {
	filter, err := r.userFilter(username)
	if err != nil {
		return nil, &ResolveError{Username: username, Kind: FailLocal, Err: err}
	}
	attrs := []string{r.cfg.UserNameAttribute}
	for _, base := range r.cfg.Bases {
		entries, err := session.Search(base, directory.ScopeSubtree, filter, attrs)
		if err != nil {
			kind := FailUnavailable
			if directory.StatusOf(err) == directory.StatusNotFound {
				kind = FailNotFound
			}
			logger.Warn("user lookup failed", logger.Username(username),
				logger.Base(base), logger.Err(err))
			return nil, &ResolveError{Username: username, Kind: kind, Err: err}
		}
		if len(entries) > 0 {
			return entries[0], nil
		}
	}
	return nil, nil
}

// userFilter expands the configured user search filter with the
// escaped username.
func (r *Resolver) userFilter(username string) (string, error) {
	ctx := NewContext()
	ctx.Set("username", username)
	return Expand(r.cfg.UserFilter, ctx)
}
