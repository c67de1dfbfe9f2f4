package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/vendora/api/internal/platform/httpx"
)

// Custom claims the API reads off a verified token.
const (
	roleClaim     = "role"
	emailClaim    = "email"
	nameClaim     = "name"
	vendorIDClaim = "vendorId"

	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals an expired Firebase ID token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals a Firebase ID token that failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter loads Firebase user records.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns Firebase token verification into chi middleware.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter
	timeout  time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithUserGetter enables lazy Identity.User lookups through the Admin SDK.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) {
		a.users = getter
	}
}

// WithVerifyTimeout bounds each token verification and user lookup.
func WithVerifyTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds the middleware factory around a verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		timeout:  defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token.
// When roles are given, the identity must hold at least one of them;
// with no roles any authenticated identity passes.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, r, "unauthenticated", "authorization header missing or invalid")
				return
			}

			identity, ok := a.authenticate(w, r, token)
			if !ok {
				return
			}
			if len(allowed) > 0 && !holdsAnyRole(identity.Roles, allowed) {
				writeAuthError(w, r, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth verifies a bearer token when one is supplied and
// lets the request through anonymously otherwise. A malformed or expired
// token is still rejected so a caller cannot downgrade to anonymous by
// sending garbage.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			identity, ok := a.authenticate(w, r, token)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// authenticate verifies the token and builds the identity, writing the
// error response itself when verification fails.
func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request, token string) (*Identity, bool) {
	if a == nil || a.verifier == nil {
		writeAuthError(w, r, "unauthenticated", "authorization service unavailable")
		return nil, false
	}

	ctx, cancel := a.boundedContext(r.Context())
	if cancel != nil {
		defer cancel()
	}

	verified, err := a.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
			writeAuthError(w, r, "token_expired", "firebase id token expired")
		default:
			writeAuthError(w, r, "invalid_token", "firebase id token invalid")
		}
		return nil, false
	}

	identity := &Identity{
		UID:      verified.UID,
		Email:    stringClaim(verified.Claims, emailClaim),
		Name:     stringClaim(verified.Claims, nameClaim),
		Roles:    roleClaims(verified.Claims),
		VendorID: stringClaim(verified.Claims, vendorIDClaim),
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	if a.users != nil {
		users := a.users
		identity.userLoader = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			ctx, cancel := a.boundedContext(ctx)
			if cancel != nil {
				defer cancel()
			}
			return users.GetUser(ctx, uid)
		}
	}
	return identity, true
}

func (a *Authenticator) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

// roleClaims accepts the three shapes Firebase custom claims show up in:
// a single string, a list, or a map of role name to bool.
func roleClaims(claims map[string]any) []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(raw string) {
		role := normaliseRole(raw)
		if role == "" {
			return
		}
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	switch v := claims[roleClaim].(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case map[string]any:
		for name, granted := range v {
			if enabled, ok := granted.(bool); ok && enabled {
				add(name)
			}
		}
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func holdsAnyRole(roles []string, allowed map[string]struct{}) bool {
	for _, role := range roles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
}
