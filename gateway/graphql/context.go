package graphql

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/libraria/libraria/auth"
)

// contextBuilder assembles the execution context handed to resolver
// dispatch: it extracts the transport-specific credential, resolves it to
// an identity and attaches the result.
//
// HTTP contexts are rebuilt per request. Subscription contexts are built
// once at connection-init and reused for every operation on that
// connection; identity is fixed for the connection's duration.
type contextBuilder struct {
	auth   *auth.Service
	logger *slog.Logger
}

// forRequest builds the execution context for one HTTP request. An
// invalid credential degrades to an anonymous context: policy enforcement
// for required identity belongs to the resolvers, and login/me handle the
// missing-identity case.
func (b *contextBuilder) forRequest(r *http.Request) context.Context {
	credential := auth.BearerToken(r.Header.Get("Authorization"))

	identity, err := b.auth.Resolve(r.Context(), credential)
	if err != nil {
		b.logger.Warn("credential rejected, continuing anonymous",
			"remote", r.RemoteAddr, "error", err)
		identity = nil
	}
	return auth.WithIdentity(r.Context(), identity)
}

// forConnection builds the execution context for a subscription
// connection from its connection-init payload. Unlike HTTP, an explicitly
// invalid credential is an error: the caller rejects the connection.
func (b *contextBuilder) forConnection(ctx context.Context, payload initPayload) (context.Context, error) {
	identity, err := b.auth.Resolve(ctx, payload.credential())
	if err != nil {
		return nil, err
	}
	return auth.WithIdentity(ctx, identity), nil
}
