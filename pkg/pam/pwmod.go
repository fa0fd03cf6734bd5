package pam

import (
	"context"
	"strconv"
	"time"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// tryPwMod changes the password of targetDN over a fresh session
// bound as (bindDN, oldSecret). When bindDN is the configured
// administrator DN the old secret is not forwarded to the modify
// operation; administrators change passwords without knowing them.
func (h *Handler) tryPwMod(ctx context.Context, bindDN, targetDN, oldSecret, newSecret string) error {
	session, err := h.dir.Open(ctx, directory.Credentials{DN: bindDN, Secret: oldSecret})
	if err != nil {
		return err
	}
	defer session.Close()

	// The target must resolve to a real entry under this session
	// before we touch its password.
	entries, err := session.Search(targetDN, directory.ScopeBase, "(objectClass=*)",
		[]string{h.cfg.Directory.UserNameAttribute})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return &directory.Error{Op: "password-modify", Status: directory.StatusNotFound}
	}

	if h.cfg.PAM.RootPwModDN != "" && bindDN == h.cfg.PAM.RootPwModDN {
		oldSecret = ""
	}
	if err := session.PasswordModify(targetDN, oldSecret, newSecret); err != nil {
		return err
	}
	h.updateLastChange(session, targetDN)
	return nil
}

// updateLastChange records the day of the password change on the
// target entry. Best effort: a failure is logged and never affects
// the reported outcome of the password change itself.
func (h *Handler) updateLastChange(session directory.Session, targetDN string) {
	attr := h.cfg.Directory.LastChangeAttribute
	if attr == "" {
		return
	}
	days := strconv.FormatInt(time.Now().Unix()/86400, 10)
	if err := session.ModifyReplace(targetDN, attr, []string{days}); err != nil {
		logger.Warn("could not update password change timestamp",
			logger.DN(targetDN), "attribute", attr, logger.Err(err))
	}
}

// statusMessage renders a directory status as the human-readable
// message field of a response record.
func statusMessage(s directory.Status) string {
	switch s {
	case directory.StatusSuccess:
		return ""
	case directory.StatusUnavailable:
		return "Directory server unavailable"
	case directory.StatusInvalidCredentials:
		return "Invalid credentials"
	case directory.StatusNotFound:
		return "No such object"
	case directory.StatusInvalidSyntax:
		return "Invalid syntax"
	case directory.StatusNoResults:
		return "No results returned"
	case directory.StatusLocalError:
		return "Local error"
	default:
		return "Operations error"
	}
}
