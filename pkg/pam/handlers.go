// Package pam implements the daemon side of the four PAM credential
// operations: authenticate, authorize, session open/close, and
// password change. Handlers read framed requests, consult the
// directory through short-lived bound sessions, and write framed
// responses; they are the only place trust decisions are made.
package pam

import (
	"context"
	"fmt"

	"github.com/salahcoronya/nss-pam-ldapd/internal/logger"
	"github.com/salahcoronya/nss-pam-ldapd/internal/protocol/nslcd"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// Handler services PAM protocol requests. It owns no per-request
// state: configuration is read-only after startup and the FQDN cache
// converges on first use, so one Handler safely serves all
// connections concurrently.
type Handler struct {
	cfg      *config.Config
	dir      directory.Opener
	resolver *Resolver
	fqdn     *FQDNCache
}

// NewHandler builds a Handler over the given configuration and
// directory opener.
func NewHandler(cfg *config.Config, dir directory.Opener) *Handler {
	return &Handler{
		cfg:      cfg,
		dir:      dir,
		resolver: NewResolver(cfg.Directory),
		fqdn:     NewFQDNCache(),
	}
}

// OperationName returns the log label for a protocol action tag.
func OperationName(action int32) string {
	switch action {
	case nslcd.ActionPAMAuthc:
		return "authc"
	case nslcd.ActionPAMAuthz:
		return "authz"
	case nslcd.ActionPAMSessionOpen:
		return "sess_o"
	case nslcd.ActionPAMSessionClose:
		return "sess_c"
	case nslcd.ActionPAMPwMod:
		return "pwmod"
	default:
		return fmt.Sprintf("unknown(0x%08x)", uint32(action))
	}
}

// Handle dispatches one request whose action tag has already been
// read from the stream. A returned error means the protocol exchange
// was aborted mid-request and the connection should be dropped; a
// completed response, including denials and not-found outcomes,
// returns nil.
func (h *Handler) Handle(ctx context.Context, action int32, r *nslcd.Reader, w *nslcd.Writer, callerUID uint32) error {
	switch action {
	case nslcd.ActionPAMAuthc:
		return h.Authenticate(ctx, r, w, callerUID)
	case nslcd.ActionPAMAuthz:
		return h.Authorize(ctx, r, w)
	case nslcd.ActionPAMSessionOpen:
		return h.SessionOpen(ctx, r, w)
	case nslcd.ActionPAMSessionClose:
		return h.SessionClose(ctx, r, w)
	case nslcd.ActionPAMPwMod:
		return h.PasswordModify(ctx, r, w, callerUID)
	default:
		return fmt.Errorf("unknown request action 0x%08x", uint32(action))
	}
}

// fieldWriter writes response fields with a sticky first error so
// handlers can emit a record without an error check per field.
type fieldWriter struct {
	w   *nslcd.Writer
	err error
}

func (fw *fieldWriter) int32(v int32) {
	if fw.err == nil {
		fw.err = fw.w.WriteInt32(v)
	}
}

func (fw *fieldWriter) string(s string, max int) {
	if fw.err == nil {
		fw.err = fw.w.WriteString(s, max)
	}
}

// Authenticate verifies a credential tuple by binding as the user.
//
// An empty username with a configured administrator DN selects the
// administrative bypass instead of normal resolution. An unknown user
// yields zero result records; any other resolution failure yields a
// single record with an authinfo-unavailable status. The bind outcome
// itself is reported as success or auth-error.
func (h *Handler) Authenticate(ctx context.Context, r *nslcd.Reader, w *nslcd.Writer, callerUID uint32) error {
	username, err := r.ReadString(nslcd.MaxUsernameLen)
	if err != nil {
		return err
	}
	userDN, err := r.ReadString(nslcd.MaxUserDNLen)
	if err != nil {
		return err
	}
	service, err := r.ReadString(nslcd.MaxServiceLen)
	if err != nil {
		return err
	}
	secret, err := r.ReadString(nslcd.MaxSecretLen)
	if err != nil {
		return err
	}
	ctx = logger.WithUsername(ctx, username)
	logger.DebugCtx(ctx, "authentication request",
		logger.DN(userDN), logger.Service(service),
		"secret", logger.RedactSecret(secret))

	if err := writeHeader(w, nslcd.ActionPAMAuthc); err != nil {
		return err
	}

	bindIdent := ResolveBindIdentityAuth(username, secret, h.cfg.PAM.IsTrustedCaller(callerUID), h.cfg.PAM)
	var ident Identity
	if bindIdent.Admin {
		if len(bindIdent.DN) >= nslcd.MaxUserDNLen {
			logger.ErrorCtx(ctx, "configured administrator DN does not fit the DN field")
			return fmt.Errorf("administrator DN: %w", nslcd.ErrFieldOverflow)
		}
		if len(bindIdent.Secret) >= nslcd.MaxSecretLen {
			logger.ErrorCtx(ctx, "configured administrator secret does not fit the secret field")
			return fmt.Errorf("administrator secret: %w", nslcd.ErrFieldOverflow)
		}
		ident = Identity{Username: username, DN: bindIdent.DN}
	} else {
		ident, err = h.resolveWithSession(ctx, username, userDN)
		if err != nil {
			fw := &fieldWriter{w: w}
			if FailKindOf(err) != FailNotFound {
				fw.int32(nslcd.ResultBegin)
				fw.string(username, nslcd.MaxUsernameLen)
				fw.string("", nslcd.MaxUserDNLen)
				fw.int32(nslcd.PAMAuthInfoUnavail)
				fw.int32(nslcd.PAMSuccess)
				fw.string("directory server unavailable", nslcd.MaxMessageLen)
			}
			fw.int32(nslcd.ResultEnd)
			return fw.err
		}
	}

	status := tryBind(ctx, h.dir, ident.DN, bindIdent.Secret)
	authc := nslcd.PAMAuthError
	if status == directory.StatusSuccess {
		logger.DebugCtx(ctx, "bind successful", logger.DN(ident.DN))
		authc = nslcd.PAMSuccess
	}

	fw := &fieldWriter{w: w}
	fw.int32(nslcd.ResultBegin)
	fw.string(ident.Username, nslcd.MaxUsernameLen)
	fw.string(ident.DN, nslcd.MaxUserDNLen)
	fw.int32(authc)
	fw.int32(nslcd.PAMSuccess)
	fw.string("", nslcd.MaxMessageLen)
	fw.int32(nslcd.ResultEnd)
	return fw.err
}

// Authorize checks whether a resolved user may use a service. Without
// a configured authorization search every resolved user is allowed.
// Any resolution failure yields zero result records.
func (h *Handler) Authorize(ctx context.Context, r *nslcd.Reader, w *nslcd.Writer) error {
	username, err := r.ReadString(nslcd.MaxUsernameLen)
	if err != nil {
		return err
	}
	userDN, err := r.ReadString(nslcd.MaxUserDNLen)
	if err != nil {
		return err
	}
	service, err := r.ReadString(nslcd.MaxServiceLen)
	if err != nil {
		return err
	}
	ruser, err := r.ReadString(nslcd.MaxRUserLen)
	if err != nil {
		return err
	}
	rhost, err := r.ReadString(nslcd.MaxHostLen)
	if err != nil {
		return err
	}
	tty, err := r.ReadString(nslcd.MaxTTYLen)
	if err != nil {
		return err
	}
	ctx = logger.WithUsername(ctx, username)
	logger.DebugCtx(ctx, "authorization request",
		logger.DN(userDN), logger.Service(service),
		"ruser", ruser, "rhost", rhost, "tty", tty)

	if err := writeHeader(w, nslcd.ActionPAMAuthz); err != nil {
		return err
	}

	session, err := h.dir.Open(ctx, directory.Credentials{})
	if err != nil {
		logger.WarnCtx(ctx, "cannot open directory session", logger.Err(err))
		return w.WriteInt32(nslcd.ResultEnd)
	}
	defer session.Close()

	ident, err := h.resolver.Resolve(session, username, userDN)
	if err != nil {
		return w.WriteInt32(nslcd.ResultEnd)
	}

	if h.cfg.PAM.AuthzSearch != "" {
		tctx := h.buildAuthzContext(ident, authzRequest{
			Service: service, RUser: ruser, RHost: rhost, TTY: tty,
		})
		if err := h.tryAuthzSearch(session, tctx); err != nil {
			fw := &fieldWriter{w: w}
			fw.int32(nslcd.ResultBegin)
			fw.string(ident.Username, nslcd.MaxUsernameLen)
			fw.string(ident.DN, nslcd.MaxUserDNLen)
			fw.int32(nslcd.PAMPermDenied)
			fw.string("authorization check failed", nslcd.MaxMessageLen)
			fw.int32(nslcd.ResultEnd)
			return fw.err
		}
	}

	fw := &fieldWriter{w: w}
	fw.int32(nslcd.ResultBegin)
	fw.string(ident.Username, nslcd.MaxUsernameLen)
	fw.string(ident.DN, nslcd.MaxUserDNLen)
	fw.int32(nslcd.PAMSuccess)
	fw.string("", nslcd.MaxMessageLen)
	fw.int32(nslcd.ResultEnd)
	return fw.err
}

// SessionOpen reads the session fields and returns a placeholder
// session identifier. No directory interaction happens; session
// accounting lives with the client side.
func (h *Handler) SessionOpen(ctx context.Context, r *nslcd.Reader, w *nslcd.Writer) error {
	username, err := h.readSessionFields(r)
	if err != nil {
		return err
	}
	logger.DebugCtx(logger.WithUsername(ctx, username), "session open request")

	if err := writeHeader(w, nslcd.ActionPAMSessionOpen); err != nil {
		return err
	}
	fw := &fieldWriter{w: w}
	fw.int32(nslcd.ResultBegin)
	fw.int32(nslcd.SessionOpenID)
	fw.int32(nslcd.ResultEnd)
	return fw.err
}

// SessionClose reads the session fields plus the session identifier
// and acknowledges with a fixed success code.
func (h *Handler) SessionClose(ctx context.Context, r *nslcd.Reader, w *nslcd.Writer) error {
	username, err := h.readSessionFields(r)
	if err != nil {
		return err
	}
	sessionID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	logger.DebugCtx(logger.WithUsername(ctx, username), "session close request",
		"session_id", sessionID)

	if err := writeHeader(w, nslcd.ActionPAMSessionClose); err != nil {
		return err
	}
	fw := &fieldWriter{w: w}
	fw.int32(nslcd.ResultBegin)
	fw.int32(nslcd.SessionCloseID)
	fw.int32(nslcd.ResultEnd)
	return fw.err
}

// readSessionFields reads the common request fields of the two
// session operations and returns the username for logging.
func (h *Handler) readSessionFields(r *nslcd.Reader) (string, error) {
	username, err := r.ReadString(nslcd.MaxUsernameLen)
	if err != nil {
		return "", err
	}
	if _, err := r.ReadString(nslcd.MaxUserDNLen); err != nil {
		return "", err
	}
	if _, err := r.ReadString(nslcd.MaxServiceLen); err != nil {
		return "", err
	}
	if _, err := r.ReadString(nslcd.MaxTTYLen); err != nil {
		return "", err
	}
	if _, err := r.ReadString(nslcd.MaxHostLen); err != nil {
		return "", err
	}
	if _, err := r.ReadString(nslcd.MaxRUserLen); err != nil {
		return "", err
	}
	return username, nil
}

// PasswordModify changes a user's password. A request DN equal to the
// configured administrator DN selects the administrative bypass: the
// daemon binds as the administrator and the target user is resolved
// normally. Resolution failures yield zero result records; a failed
// change yields a permission-denied record with a readable message.
func (h *Handler) PasswordModify(ctx context.Context, r *nslcd.Reader, w *nslcd.Writer, callerUID uint32) error {
	username, err := r.ReadString(nslcd.MaxUsernameLen)
	if err != nil {
		return err
	}
	userDN, err := r.ReadString(nslcd.MaxUserDNLen)
	if err != nil {
		return err
	}
	service, err := r.ReadString(nslcd.MaxServiceLen)
	if err != nil {
		return err
	}
	oldSecret, err := r.ReadString(nslcd.MaxSecretLen)
	if err != nil {
		return err
	}
	newSecret, err := r.ReadString(nslcd.MaxSecretLen)
	if err != nil {
		return err
	}
	ctx = logger.WithUsername(ctx, username)
	logger.DebugCtx(ctx, "password change request",
		logger.DN(userDN), logger.Service(service),
		"old_secret", logger.RedactSecret(oldSecret),
		"new_secret", logger.RedactSecret(newSecret))

	if err := writeHeader(w, nslcd.ActionPAMPwMod); err != nil {
		return err
	}

	bindIdent := ResolveBindIdentityPwMod(userDN, oldSecret, h.cfg.PAM.IsTrustedCaller(callerUID), h.cfg.PAM)
	if bindIdent.Admin {
		if len(bindIdent.Secret) >= nslcd.MaxSecretLen {
			logger.ErrorCtx(ctx, "configured administrator secret does not fit the secret field")
			return fmt.Errorf("administrator secret: %w", nslcd.ErrFieldOverflow)
		}
		// Force normal resolution of the target user.
		userDN = ""
	}

	ident, err := h.resolveWithSession(ctx, username, userDN)
	if err != nil {
		return w.WriteInt32(nslcd.ResultEnd)
	}

	bindDN := ident.DN
	if bindIdent.Admin {
		bindDN = bindIdent.DN
	}

	modErr := h.tryPwMod(ctx, bindDN, ident.DN, bindIdent.Secret, newSecret)
	fw := &fieldWriter{w: w}
	fw.int32(nslcd.ResultBegin)
	fw.string(ident.Username, nslcd.MaxUsernameLen)
	fw.string(ident.DN, nslcd.MaxUserDNLen)
	if modErr == nil {
		logger.InfoCtx(ctx, "password changed", logger.Username(ident.Username), logger.DN(ident.DN))
		fw.int32(nslcd.PAMSuccess)
		fw.string("", nslcd.MaxMessageLen)
	} else {
		status := directory.StatusOf(modErr)
		logger.WarnCtx(ctx, "password change failed", logger.Username(ident.Username),
			logger.DN(ident.DN), logger.Status(status.String()), logger.Err(modErr))
		fw.int32(nslcd.PAMPermDenied)
		fw.string(statusMessage(status), nslcd.MaxMessageLen)
	}
	fw.int32(nslcd.ResultEnd)
	return fw.err
}

// resolveWithSession opens a directory session under the daemon's
// own identity, resolves the user, and closes the session again.
func (h *Handler) resolveWithSession(ctx context.Context, username, userDN string) (Identity, error) {
	session, err := h.dir.Open(ctx, directory.Credentials{})
	if err != nil {
		logger.WarnCtx(ctx, "cannot open directory session", logger.Err(err))
		return Identity{}, &ResolveError{Username: username, Kind: FailUnavailable, Err: err}
	}
	defer session.Close()
	return h.resolver.Resolve(session, username, userDN)
}

// writeHeader emits the version and action tags that begin every
// response.
func writeHeader(w *nslcd.Writer, action int32) error {
	if err := w.WriteInt32(nslcd.Version); err != nil {
		return err
	}
	return w.WriteInt32(action)
}
