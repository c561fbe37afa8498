package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errBadAuthorization = errors.New("missing or malformed bearer token")

type ownerKey struct{}

// Auth verifies HS256 bearer tokens whose subject is the owner id.
type Auth struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuth(secret string) (*Auth, error) {
	if secret == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	return &Auth{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(time.Minute),
		),
	}, nil
}

// IssueToken signs a token for ownerID valid for ttl.
func (a *Auth) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	if ownerID == "" {
		return "", errors.New("auth: empty owner id")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// OwnerFromToken validates tokenStr and returns its subject.
func (a *Auth) OwnerFromToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errBadAuthorization
	}
	var claims jwt.RegisteredClaims
	_, err := a.parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// bearer extracts the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so a "token" query parameter is
// accepted as well.
func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token and stores the owner
// id in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := a.OwnerFromToken(bearer(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="condcal"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// OwnerFrom returns the authenticated owner id stored by Middleware.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
