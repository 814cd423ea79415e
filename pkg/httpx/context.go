package httpx

import "context"

type ctxKey string

const (
	CtxKeyIdentityID   ctxKey = "identity_id"
	CtxKeySessionID    ctxKey = "session_id"
	CtxKeySessionToken ctxKey = "session_token"
)

// IdentityIDFromCtx returns the authenticated identity ID, or "" when the
// request carries no validated session.
func IdentityIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyIdentityID).(string); ok {
		return v
	}
	return ""
}

// SessionTokenFromCtx returns the raw session token the request authenticated
// with, or "" when absent.
func SessionTokenFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionToken).(string); ok {
		return v
	}
	return ""
}
