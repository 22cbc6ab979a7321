// Package auth derives a per-request identity from an opaque bearer
// credential. Tokens are HS256 JWTs signed with a server-held secret;
// a verified token is resolved to a stored user before an identity is
// handed to resolver execution.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/libraria/libraria/errors"
	"github.com/libraria/libraria/store"
)

const bearerPrefix = "Bearer "

// Identity is the authenticated user derived from a verified credential.
// Lifetime is one request or one subscription connection.
type Identity struct {
	SubjectID string
	Username  string
}

// UserFinder is the slice of the data-access capability the resolver needs.
type UserFinder interface {
	UserByID(ctx context.Context, id string) (store.User, error)
}

// Claims is the token payload: the username plus registered claims
// (subject, expiry, issued-at, token id).
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and verifies bearer tokens and resolves them to identities.
type Service struct {
	secret        []byte
	tokenTTL      time.Duration
	verifyTimeout time.Duration
	users         UserFinder
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTokenTTL sets the issued-token lifetime. Zero means tokens do not
// expire; a negative lifetime mints already-expired tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) { s.tokenTTL = ttl }
}

// WithVerifyTimeout bounds credential resolution, lookup included.
func WithVerifyTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.verifyTimeout = timeout }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an identity service. The secret must be non-empty;
// the users finder must be non-nil.
func NewService(secret string, users UserFinder, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Auth", "NewService",
			"signing secret is required")
	}
	if users == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Auth", "NewService",
			"user finder is required")
	}

	s := &Service{
		secret:        []byte(secret),
		tokenTTL:      0,
		verifyTimeout: 5 * time.Second,
		users:         users,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueToken signs a token for the user. Each call produces a structurally
// distinct token (fresh token id and issue time) that resolves to the same
// identity.
func (s *Service) IssueToken(user store.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.tokenTTL != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.WrapUpstream(err, "Auth", "IssueToken", "token signing")
	}
	return signed, nil
}

// Resolve turns a raw credential into an identity.
//
// An absent credential resolves to (nil, nil): anonymous is a valid
// execution context. A present credential that fails signature, expiry or
// claim checks returns a distinguishable unauthenticated error; callers
// decide whether that degrades to anonymous (HTTP) or rejects the
// connection (subscriptions). A verified token whose subject no longer
// exists resolves to (nil, nil).
func (s *Service) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	claims, err := s.verify(credential)
	if err != nil {
		return nil, err
	}

	user, err := s.users.UserByID(ctx, claims.Subject)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		if ctx.Err() != nil {
			// Timeout counts as verification failure, never a hang.
			return nil, errors.WrapUnauthenticated(ctx.Err(), "Auth", "Resolve",
				"identity lookup timed out")
		}
		return nil, errors.WrapUpstream(err, "Auth", "Resolve", "identity lookup")
	}

	return &Identity{SubjectID: user.ID, Username: user.Username}, nil
}

// verify checks the token signature and claims against the server secret.
func (s *Service) verify(credential string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(token *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.WrapUnauthenticated(errors.ErrTokenExpired,
				"Auth", "Resolve", "token verification")
		}
		return nil, errors.WrapUnauthenticated(
			fmt.Errorf("%w: %w", errors.ErrInvalidCredential, err),
			"Auth", "Resolve", "token verification")
	}
	if claims.Subject == "" {
		return nil, errors.WrapUnauthenticated(errors.ErrInvalidCredential,
			"Auth", "Resolve", "token has no subject")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is absent or carries another scheme.
func BearerToken(header string) string {
	if strings.HasPrefix(header, bearerPrefix) {
		return header[len(bearerPrefix):]
	}
	return ""
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity. A nil identity
// marks an explicitly anonymous context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the identity attached to the context, or nil for
// anonymous execution.
func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKey{}).(*Identity)
	return identity
}
