package pam

import (
	"context"
	"strings"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// fakeSession scripts directory responses per test. Unset functions
// succeed with empty results.
type fakeSession struct {
	searchFn func(base string, scope directory.Scope, filter string, attrs []string) ([]*directory.Entry, error)
	pwmodFn  func(targetDN, oldSecret, newSecret string) error
	modifyFn func(dn, attribute string, values []string) error

	searches []string // filters seen, for injection assertions
	closed   bool
}

func (s *fakeSession) Search(base string, scope directory.Scope, filter string, attrs []string) ([]*directory.Entry, error) {
	s.searches = append(s.searches, filter)
	if s.searchFn == nil {
		return nil, nil
	}
	return s.searchFn(base, scope, filter, attrs)
}

func (s *fakeSession) PasswordModify(targetDN, oldSecret, newSecret string) error {
	if s.pwmodFn == nil {
		return nil
	}
	return s.pwmodFn(targetDN, oldSecret, newSecret)
}

func (s *fakeSession) ModifyReplace(dn, attribute string, values []string) error {
	if s.modifyFn == nil {
		return nil
	}
	return s.modifyFn(dn, attribute, values)
}

func (s *fakeSession) Close() { s.closed = true }

// fakeOpener hands out scripted sessions and records every credential
// tuple it was asked to bind with.
type fakeOpener struct {
	openFn func(creds directory.Credentials) (directory.Session, error)
	opened []directory.Credentials
}

func (o *fakeOpener) Open(_ context.Context, creds directory.Credentials) (directory.Session, error) {
	o.opened = append(o.opened, creds)
	if o.openFn == nil {
		return &fakeSession{}, nil
	}
	return o.openFn(creds)
}

// userEntrySearch returns a searchFn serving one user entry for any
// filter containing the given (escaped) username.
func userEntrySearch(username string, entry *directory.Entry) func(string, directory.Scope, string, []string) ([]*directory.Entry, error) {
	needle := "uid=" + directory.EscapeFilter(username) + ")"
	return func(base string, scope directory.Scope, filter string, attrs []string) ([]*directory.Entry, error) {
		if strings.Contains(filter, needle) {
			return []*directory.Entry{entry}, nil
		}
		return nil, nil
	}
}
