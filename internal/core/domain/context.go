package domain

import "context"

type auditUserKey struct{}

// WithAuditUser returns a context carrying the acting user, so services
// can attribute audit entries without depending on the transport layer.
func WithAuditUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, auditUserKey{}, u)
}

// AuditUserFrom extracts the acting user from the context. It returns
// nil for system-initiated actions.
func AuditUserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(auditUserKey{}).(*User)
	return u
}
