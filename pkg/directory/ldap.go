package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/go-ldap/ldap/v3"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
)

// Client is the real Opener. It dials the configured server URIs in
// order and binds each new Session with the credentials it was asked
// for, falling back to the daemon's configured identity when the
// caller passes an empty DN.
type Client struct {
	cfg config.DirectoryConfig
}

// NewClient builds a Client from the directory section of the
// configuration.
func NewClient(cfg config.DirectoryConfig) *Client {
	return &Client{cfg: cfg}
}

// Open implements Opener.
func (c *Client) Open(ctx context.Context, creds Credentials) (Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	dn := creds.DN
	secret := creds.Secret
	if dn == "" {
		dn = c.cfg.BindDN
		secret = c.cfg.BindPW
	}

	if err := bind(conn, dn, secret); err != nil {
		conn.Close()
		return nil, err
	}
	return &ldapSession{conn: conn}, nil
}

// dial tries every configured URI in order and returns the first
// connection that comes up. Individual dial failures are logged at
// debug level; only total failure is an error.
func (c *Client) dial(ctx context.Context) (*ldap.Conn, error) {
	var lastErr error
	for _, uri := range c.cfg.URIs {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "dial", Status: StatusLocalError, Err: err}
		}
		conn, err := ldap.DialURL(uri, ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}))
		if err != nil {
			logger.Debug("directory server unreachable", "uri", uri, logger.Err(err))
			lastErr = err
			continue
		}
		conn.SetTimeout(c.cfg.Timeout)
		if c.cfg.StartTLS {
			if err := conn.StartTLS(&tls.Config{MinVersion: tls.VersionTLS12}); err != nil {
				conn.Close()
				logger.Debug("STARTTLS failed", "uri", uri, logger.Err(err))
				lastErr = err
				continue
			}
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no directory servers configured")
	}
	return nil, &Error{Op: "dial", Status: StatusUnavailable, Err: lastErr}
}

// bind authenticates the connection. An empty DN with an empty secret
// is an anonymous bind; a non-empty DN with an empty secret is always
// rejected here rather than risk the server treating it as anonymous.
func bind(conn *ldap.Conn, dn, secret string) error {
	if dn != "" && secret == "" {
		return &Error{Op: "bind", Status: StatusInvalidCredentials,
			Err: fmt.Errorf("empty secret for %q", dn)}
	}
	var err error
	if dn == "" && secret == "" {
		err = conn.UnauthenticatedBind("")
	} else {
		err = conn.Bind(dn, secret)
	}
	return mapError("bind", err)
}

type ldapSession struct {
	conn *ldap.Conn
}

func (s *ldapSession) Search(base string, scope Scope, filter string, attributes []string) ([]*Entry, error) {
	ldapScope := ldap.ScopeWholeSubtree
	if scope == ScopeBase {
		ldapScope = ldap.ScopeBaseObject
	}
	req := ldap.NewSearchRequest(base, ldapScope, ldap.NeverDerefAliases,
		0, 0, false, filter, attributes, nil)
	res, err := s.conn.Search(req)
	if err != nil {
		// NoSuchObject on a search means the base is missing, which
		// for our callers is simply an empty result.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, mapError("search", err)
	}
	entries := make([]*Entry, 0, len(res.Entries))
	for _, raw := range res.Entries {
		attrs := make(map[string][]string, len(raw.Attributes))
		for _, a := range raw.Attributes {
			attrs[a.Name] = a.Values
		}
		entries = append(entries, &Entry{DN: raw.DN, attributes: attrs})
	}
	return entries, nil
}

func (s *ldapSession) PasswordModify(targetDN, oldSecret, newSecret string) error {
	req := ldap.NewPasswordModifyRequest(targetDN, oldSecret, newSecret)
	_, err := s.conn.PasswordModify(req)
	return mapError("password-modify", err)
}

func (s *ldapSession) ModifyReplace(dn, attribute string, values []string) error {
	req := ldap.NewModifyRequest(dn, nil)
	req.Replace(attribute, values)
	return mapError("modify", s.conn.Modify(req))
}

func (s *ldapSession) Close() {
	s.conn.Close()
}
