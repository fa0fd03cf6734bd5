package pam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *Context {
	ctx := NewContext()
	ctx.Set("username", "alice")
	ctx.Set("service", "sshd")
	ctx.Set("empty", "")
	return ctx
}

func TestExpand(t *testing.T) {
	ctx := newTestContext()
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no variables", "(objectClass=posixAccount)", "(objectClass=posixAccount)"},
		{"simple variable", "(uid=$username)", "(uid=alice)"},
		{"braced variable", "(uid=${username})", "(uid=alice)"},
		{"two variables", "(&(uid=$username)(svc=$service))", "(&(uid=alice)(svc=sshd))"},
		{"unknown variable is empty", "(x=$nosuchvar)", "(x=)"},
		{"default taken when empty", "(x=${empty:-fallback})", "(x=fallback)"},
		{"default skipped when set", "(x=${username:-fallback})", "(x=alice)"},
		{"alternate taken when set", "(x=${username:+present})", "(x=present)"},
		{"alternate skipped when empty", "(x=${empty:+present})", "(x=)"},
		{"nested default", "(x=${empty:-$service})", "(x=sshd)"},
		{"escaped dollar", `(x=\$username)`, "(x=$username)"},
		{"escaped brace in default", `(x=${empty:-a\}b})`, "(x=a}b)"},
		{"name ends at non-name char", "(host=$service.example.com)", "(host=sshd.example.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.template, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandErrors(t *testing.T) {
	ctx := newTestContext()
	tests := []struct {
		name     string
		template string
	}{
		{"unterminated brace", "(uid=${username"},
		{"bare dollar at end", "(uid=$"},
		{"missing name", "(uid=${})"},
		{"trailing backslash", `(uid=alice)\`},
		{"garbage after name", "(uid=${username?x})"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.template, ctx)
			var terr *TemplateError
			require.ErrorAs(t, err, &terr)
		})
	}
}

// Values reach the filter only in escaped form; a username carrying
// filter metacharacters must not survive as a wildcard.
func TestContextEscapesValues(t *testing.T) {
	ctx := NewContext()
	ctx.Set("username", "ali*ce")
	ctx.Set("rhost", "host(1)")

	got, err := Expand("(&(uid=$username)(host=$rhost))", ctx)
	require.NoError(t, err)
	assert.Equal(t, `(&(uid=ali\2ace)(host=host\281\29))`, got)
	assert.NotContains(t, got, "ali*ce")
}

func TestContextOrderAndOverwrite(t *testing.T) {
	ctx := NewContext()
	ctx.Set("b", "1")
	ctx.Set("a", "2")
	ctx.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, ctx.Names())
	assert.Equal(t, "3", ctx.Get("b"))
	assert.Equal(t, "", ctx.Get("missing"))
}
