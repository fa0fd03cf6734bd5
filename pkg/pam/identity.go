package pam

import "github.com/salahcoronya/nss-pam-ldapd/pkg/config"

// SecretSource records where the secret of an administrative
// override came from. It is logged (as a source, never a value) so
// audits can tell a supplied admin secret from a configured one.
type SecretSource int

const (
	// SecretFromRequest means the client-supplied secret is used.
	SecretFromRequest SecretSource = iota
	// SecretFromConfig means the configured administrator secret was
	// substituted for an empty request secret.
	SecretFromConfig
)

// BindIdentity is the decision of which identity a credential
// operation binds as. Exactly one of the two shapes occurs: a normal
// user (Admin false, DN empty until resolution) or an administrator
// override (Admin true, DN set to the configured administrator DN).
type BindIdentity struct {
	Admin        bool
	DN           string
	Secret       string
	SecretSource SecretSource
}

// resolveBindIdentity is the single place the administrative bypass
// condition lives. adminRequested is the operation-specific trigger:
// an empty username for authentication, a request DN equal to the
// configured administrator DN for password changes.
//
// The override fires only when the trigger holds AND an administrator
// DN is configured. The configured administrator secret is
// substituted only when, additionally, the request secret is empty,
// the caller is trusted, and a secret is configured. Loosening any
// clause changes the security model; do not.
func resolveBindIdentity(adminRequested bool, secret string, callerTrusted bool, cfg config.PAMConfig) BindIdentity {
	if !adminRequested || cfg.RootPwModDN == "" {
		return BindIdentity{Secret: secret}
	}
	ident := BindIdentity{
		Admin:        true,
		DN:           cfg.RootPwModDN,
		Secret:       secret,
		SecretSource: SecretFromRequest,
	}
	if secret == "" && callerTrusted && cfg.RootPwModPW != "" {
		ident.Secret = cfg.RootPwModPW
		ident.SecretSource = SecretFromConfig
	}
	return ident
}

// ResolveBindIdentityAuth applies the administrative authentication
// bypass: an empty username selects the administrator identity.
func ResolveBindIdentityAuth(username, secret string, callerTrusted bool, cfg config.PAMConfig) BindIdentity {
	return resolveBindIdentity(username == "", secret, callerTrusted, cfg)
}

// ResolveBindIdentityPwMod applies the administrative password-change
// bypass: a request DN equal to the configured administrator DN
// selects the administrator identity. The caller must then clear the
// target DN so the target user goes through normal resolution.
func ResolveBindIdentityPwMod(requestDN, oldSecret string, callerTrusted bool, cfg config.PAMConfig) BindIdentity {
	return resolveBindIdentity(requestDN != "" && requestDN == cfg.RootPwModDN,
		oldSecret, callerTrusted, cfg)
}
