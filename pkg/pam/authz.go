package pam

import (
	"fmt"
	"os"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// authzRequest carries the request fields that feed the
// authorization filter template.
type authzRequest struct {
	Service string
	RUser   string
	RHost   string
	TTY     string
}

// buildAuthzContext assembles the template variables for one
// authorization search. Values are escaped by the Context as they go
// in; the mapping is rebuilt per request and never shared.
func (h *Handler) buildAuthzContext(ident Identity, req authzRequest) *Context {
	ctx := NewContext()
	ctx.Set("username", ident.Username)
	ctx.Set("service", req.Service)
	ctx.Set("ruser", req.RUser)
	ctx.Set("rhost", req.RHost)
	ctx.Set("tty", req.TTY)
	if hostname, err := os.Hostname(); err == nil {
		ctx.Set("hostname", hostname)
	}
	if fqdn, ok := h.fqdn.Lookup(); ok {
		ctx.Set("fqdn", fqdn)
	}
	ctx.Set("dn", ident.DN)
	ctx.Set("uid", ident.Username)
	return ctx
}

// tryAuthzSearch expands the configured authorization filter and
// runs it subtree-wide against the first search base. At least one
// matching entry means allowed; anything else is a denial. The
// search only ever decides whether an entry matched, never why.
func (h *Handler) tryAuthzSearch(session directory.Session, ctx *Context) error {
	filter, err := Expand(h.cfg.PAM.AuthzSearch, ctx)
	if err != nil {
		logger.Error("authorization search template is invalid",
			"template", h.cfg.PAM.AuthzSearch, logger.Err(err))
		return err
	}
	logger.Debug("trying authorization search", logger.Filter(filter))

	if len(h.cfg.Directory.Bases) == 0 {
		return fmt.Errorf("no search bases configured")
	}
	base := h.cfg.Directory.Bases[0]
	entries, err := session.Search(base, directory.ScopeSubtree, filter, []string{"dn"})
	if err != nil {
		logger.Error("authorization search failed", logger.Filter(filter), logger.Err(err))
		return err
	}
	if len(entries) == 0 {
		logger.Error("authorization search found no matches", logger.Filter(filter))
		return fmt.Errorf("authorization search found no matches")
	}
	logger.Debug("authorization search matched", logger.DN(entries[0].DN))
	return nil
}
