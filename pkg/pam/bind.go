package pam

import (
	"context"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// tryBind verifies a credential tuple by opening a fresh session
// bound as (dn, secret) and performing a minimal base-scope search
// for the bound DN itself. The session is closed before returning,
// whatever the outcome.
func tryBind(ctx context.Context, opener directory.Opener, dn, secret string) directory.Status {
	session, err := opener.Open(ctx, directory.Credentials{DN: dn, Secret: secret})
	if err != nil {
		status := directory.StatusOf(err)
		logger.Warn("bind failed", logger.DN(dn), logger.Status(status.String()))
		return status
	}
	defer session.Close()

	entries, err := session.Search(dn, directory.ScopeBase, "(objectClass=*)", []string{"dn"})
	if err != nil {
		status := directory.StatusOf(err)
		logger.Warn("lookup of own entry failed", logger.DN(dn), logger.Err(err))
		return status
	}
	if len(entries) == 0 {
		logger.Warn("lookup of own entry returned nothing", logger.DN(dn))
		return directory.StatusNoResults
	}
	return directory.StatusSuccess
}
