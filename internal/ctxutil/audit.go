package ctxutil

import "context"

// AnonymousActor is recorded when a mutation arrives without claims.
const AnonymousActor = "anonymous"

// Actor returns the subject recorded in audit entries for the caller in ctx.
func Actor(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil && c.Subject != "" {
		return c.Subject
	}
	return AnonymousActor
}
