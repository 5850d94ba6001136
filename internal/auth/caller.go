package auth

import "context"

// CallerContext identifies who is making a request and carries the
// source-host token used on their behalf. Handlers take it from the request
// context once and pass it explicitly to services.
type CallerContext struct {
	UserID     string
	OAuthToken string
}

type contextKey string

const callerKey contextKey = "caller"

func WithCaller(ctx context.Context, c CallerContext) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller stored by RequireAuth.
func CallerFromContext(ctx context.Context) (CallerContext, bool) {
	c, ok := ctx.Value(callerKey).(CallerContext)
	return c, ok && c.UserID != ""
}
