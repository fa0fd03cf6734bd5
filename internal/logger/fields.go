package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently
// across all log statements so logs stay queryable.
const (
	KeyOperation    = "operation"     // protocol operation: authc, authz, sess_o, sess_c, pwmod
	KeyUsername     = "username"      // requested or canonical username
	KeyDN           = "dn"            // distinguished name involved in the operation
	KeyService      = "service"       // PAM service name from the request
	KeyCallerUID    = "caller_uid"    // uid of the local client process
	KeyConnectionID = "connection_id" // per-connection correlation id
	KeyFilter       = "filter"        // LDAP search filter (always escaped values)
	KeyBase         = "base"          // LDAP search base
	KeyStatus       = "status"        // operation outcome code
	KeyDurationMs   = "duration_ms"   // operation duration in milliseconds
	KeyError        = "error"         // error message
)

// Redacted is logged in place of any secret. Secrets themselves must
// never reach a log line.
const Redacted = "***"

// RedactSecret returns the redaction placeholder for a non-empty secret
// and the empty string otherwise, mirroring how the request is logged.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return Redacted
}

// Operation returns a slog.Attr for the protocol operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Username returns a slog.Attr for a username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// DN returns a slog.Attr for a distinguished name.
func DN(dn string) slog.Attr {
	return slog.String(KeyDN, dn)
}

// Service returns a slog.Attr for the PAM service name.
func Service(name string) slog.Attr {
	return slog.String(KeyService, name)
}

// CallerUID returns a slog.Attr for the local caller's uid.
func CallerUID(uid uint32) slog.Attr {
	return slog.Any(KeyCallerUID, uid)
}

// ConnectionID returns a slog.Attr for the connection correlation id.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// Filter returns a slog.Attr for an LDAP search filter. Only pass
// filters whose substituted values went through escaping.
func Filter(filter string) slog.Attr {
	return slog.String(KeyFilter, filter)
}

// Base returns a slog.Attr for an LDAP search base.
func Base(base string) slog.Attr {
	return slog.String(KeyBase, base)
}

// Status returns a slog.Attr for an operation outcome.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
