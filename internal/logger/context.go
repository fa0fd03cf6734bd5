package logger

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var requestContextKey = contextKey{}

// RequestContext holds request-scoped logging fields. It is attached to
// the context by the connection handler and picked up by the *Ctx
// logging functions so every line of a request carries the same
// correlation fields.
type RequestContext struct {
	ConnectionID string // per-connection correlation id
	Operation    string // authc, authz, sess_o, sess_c, pwmod
	Username     string // requested username (never a secret)
	CallerUID    uint32 // uid of the local client process
}

// WithRequest returns a new context carrying the given RequestContext.
func WithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// WithUsername returns a context whose RequestContext carries the
// given username. The connection handler attaches the context before
// the username has been read from the stream; handlers enrich it once
// they know who the request is about.
func WithUsername(ctx context.Context, username string) context.Context {
	rc := RequestFromContext(ctx)
	if rc == nil {
		return WithRequest(ctx, &RequestContext{Username: username})
	}
	enriched := *rc
	enriched.Username = username
	return WithRequest(ctx, &enriched)
}

// RequestFromContext retrieves the RequestContext, or nil if not present.
func RequestFromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// appendRequestFields prepends the request fields from ctx to args.
func appendRequestFields(ctx context.Context, args []any) []any {
	rc := RequestFromContext(ctx)
	if rc == nil {
		return args
	}
	fields := make([]any, 0, len(args)+8)
	if rc.ConnectionID != "" {
		fields = append(fields, KeyConnectionID, rc.ConnectionID)
	}
	if rc.Operation != "" {
		fields = append(fields, KeyOperation, rc.Operation)
	}
	if rc.Username != "" {
		fields = append(fields, KeyUsername, rc.Username)
	}
	fields = append(fields, KeyCallerUID, rc.CallerUID)
	return append(fields, args...)
}
