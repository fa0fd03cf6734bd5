package pam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

func testDirectoryConfig() config.DirectoryConfig {
	return config.DirectoryConfig{
		URIs:              []string{"ldap://localhost"},
		Bases:             []string{"dc=example,dc=com"},
		UserFilter:        "(&(objectClass=posixAccount)(uid=$username))",
		UserNameAttribute: "uid",
	}
}

func TestResolveRejectsInvalidName(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	session := &fakeSession{}

	_, err := r.Resolve(session, "ali*ce", "")
	require.Error(t, err)
	assert.Equal(t, FailNotFound, FailKindOf(err))
	assert.Empty(t, session.searches, "invalid name must never reach the directory")
}

func TestResolveSkipsLookupWithKnownDN(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	session := &fakeSession{}

	ident, err := r.Resolve(session, "alice", "uid=alice,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, Identity{Username: "alice", DN: "uid=alice,dc=example,dc=com"}, ident)
	assert.Empty(t, session.searches)
}

func TestResolveLooksUpAndNormalizes(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	entry := directory.NewEntry("uid=Bob,ou=people,dc=example,dc=com",
		map[string][]string{"uid": {"Bob"}})
	session := &fakeSession{searchFn: userEntrySearch("bob", entry)}

	ident, err := r.Resolve(session, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, "Bob", ident.Username, "canonical username wins")
	assert.Equal(t, "uid=Bob,ou=people,dc=example,dc=com", ident.DN)
}

func TestResolveFallsBackToAttributeValue(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	// RDN is cn-based, so the canonical name comes from the uid
	// attribute instead.
	entry := directory.NewEntry("cn=Alice Example,ou=people,dc=example,dc=com",
		map[string][]string{"uid": {"alice"}})
	session := &fakeSession{searchFn: userEntrySearch("alice", entry)}

	ident, err := r.Resolve(session, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.Username)
}

func TestResolveUnknownUser(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	session := &fakeSession{}

	_, err := r.Resolve(session, "nobody", "")
	require.Error(t, err)
	assert.Equal(t, FailNotFound, FailKindOf(err))
}

func TestResolveUnknownDNSentinel(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	entry := directory.NewEntry("unknown", map[string][]string{"uid": {"alice"}})
	session := &fakeSession{searchFn: userEntrySearch("alice", entry)}

	_, err := r.Resolve(session, "alice", "")
	require.Error(t, err)
	assert.Equal(t, FailNotFound, FailKindOf(err))
}

func TestResolveInvalidCanonicalName(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	entry := directory.NewEntry("uid=x,ou=people,dc=example,dc=com",
		map[string][]string{"uid": {"bad*name"}})
	session := &fakeSession{searchFn: userEntrySearch("alice", entry)}

	_, err := r.Resolve(session, "alice", "")
	require.Error(t, err)
	assert.Equal(t, FailInvalidSyntax, FailKindOf(err))
}

func TestResolveMissingUsernameAttribute(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	entry := directory.NewEntry("cn=ghost,ou=people,dc=example,dc=com",
		map[string][]string{})
	session := &fakeSession{searchFn: userEntrySearch("alice", entry)}

	_, err := r.Resolve(session, "alice", "")
	require.Error(t, err)
	assert.Equal(t, FailInvalidSyntax, FailKindOf(err))
}

func TestResolveDirectoryFailure(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	session := &fakeSession{searchFn: func(string, directory.Scope, string, []string) ([]*directory.Entry, error) {
		return nil, &directory.Error{Op: "search", Status: directory.StatusUnavailable,
			Err: errors.New("server down")}
	}}

	_, err := r.Resolve(session, "alice", "")
	require.Error(t, err)
	assert.Equal(t, FailUnavailable, FailKindOf(err))
}

// The search filter must carry the username only in escaped form.
func TestResolveEscapesUsernameInFilter(t *testing.T) {
	r := NewResolver(testDirectoryConfig())
	session := &fakeSession{}

	// Backslash is valid mid-name but special in filters.
	_, _ = r.Resolve(session, `DOM\alice`, "")
	require.Len(t, session.searches, 1)
	assert.Contains(t, session.searches[0], `DOM\5calice`)
	assert.NotContains(t, session.searches[0], `DOM\alice`)
}
