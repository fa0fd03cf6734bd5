package pam

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
)

const (
	adminDN     = "cn=admin,dc=example,dc=com"
	adminSecret = "hunter2"
)

func adminConfig() config.PAMConfig {
	return config.PAMConfig{
		RootPwModDN: adminDN,
		RootPwModPW: adminSecret,
		TrustedUIDs: []uint32{0},
	}
}

func TestResolveBindIdentityAuth(t *testing.T) {
	cfg := adminConfig()

	t.Run("empty username selects administrator", func(t *testing.T) {
		ident := ResolveBindIdentityAuth("", "supplied", false, cfg)
		assert.True(t, ident.Admin)
		assert.Equal(t, adminDN, ident.DN)
		assert.Equal(t, "supplied", ident.Secret)
		assert.Equal(t, SecretFromRequest, ident.SecretSource)
	})

	t.Run("secret substituted only for trusted caller", func(t *testing.T) {
		ident := ResolveBindIdentityAuth("", "", true, cfg)
		assert.True(t, ident.Admin)
		assert.Equal(t, adminSecret, ident.Secret)
		assert.Equal(t, SecretFromConfig, ident.SecretSource)
	})

	// Any single condition failing must fall through.
	t.Run("non-empty username stays normal", func(t *testing.T) {
		ident := ResolveBindIdentityAuth("alice", "", true, cfg)
		assert.False(t, ident.Admin)
		assert.Empty(t, ident.DN)
	})
	t.Run("no admin DN configured stays normal", func(t *testing.T) {
		noAdmin := cfg
		noAdmin.RootPwModDN = ""
		ident := ResolveBindIdentityAuth("", "", true, noAdmin)
		assert.False(t, ident.Admin)
	})
	t.Run("untrusted caller keeps empty secret", func(t *testing.T) {
		ident := ResolveBindIdentityAuth("", "", false, cfg)
		assert.True(t, ident.Admin)
		assert.Empty(t, ident.Secret)
		assert.Equal(t, SecretFromRequest, ident.SecretSource)
	})
	t.Run("non-empty secret is never replaced", func(t *testing.T) {
		ident := ResolveBindIdentityAuth("", "supplied", true, cfg)
		assert.True(t, ident.Admin)
		assert.Equal(t, "supplied", ident.Secret)
	})
	t.Run("no admin secret configured keeps empty secret", func(t *testing.T) {
		noSecret := cfg
		noSecret.RootPwModPW = ""
		ident := ResolveBindIdentityAuth("", "", true, noSecret)
		assert.True(t, ident.Admin)
		assert.Empty(t, ident.Secret)
	})
}

func TestResolveBindIdentityPwMod(t *testing.T) {
	cfg := adminConfig()

	t.Run("request DN equal to admin DN selects administrator", func(t *testing.T) {
		ident := ResolveBindIdentityPwMod(adminDN, "", true, cfg)
		assert.True(t, ident.Admin)
		assert.Equal(t, adminDN, ident.DN)
		assert.Equal(t, adminSecret, ident.Secret)
		assert.Equal(t, SecretFromConfig, ident.SecretSource)
	})
	t.Run("other DN stays normal", func(t *testing.T) {
		ident := ResolveBindIdentityPwMod("uid=alice,dc=example,dc=com", "old", true, cfg)
		assert.False(t, ident.Admin)
		assert.Equal(t, "old", ident.Secret)
	})
	t.Run("empty DN never matches even without configured admin", func(t *testing.T) {
		noAdmin := cfg
		noAdmin.RootPwModDN = ""
		ident := ResolveBindIdentityPwMod("", "old", true, noAdmin)
		assert.False(t, ident.Admin)
	})
}
