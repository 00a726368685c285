// Package auth verifies bearer tokens and enforces role-based access.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles known to livpulse.
const (
	RoleAdmin     = "Admin"
	RoleTPM       = "TPM"
	RolePM        = "PM"
	RoleEM        = "EM"
	RoleSRE       = "SRE"
	RoleExecutive = "Executive"
)

var (
	// DataRoles may upload and review data.
	DataRoles = []string{RoleAdmin, RoleTPM, RolePM, RoleEM, RoleSRE}
	// PrivilegedRoles may act on every user's uploads.
	PrivilegedRoles = []string{RoleAdmin, RoleTPM}
)

var (
	ErrMissingToken = errors.New("access token required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// User is the authenticated caller.
type User struct {
	ID    int64
	Email string
	Role  string
}

// Privileged reports whether the user may act on other users' uploads.
func (u User) Privileged() bool {
	return slices.Contains(PrivilegedRoles, u.Role)
}

// HasRole reports whether the user holds one of roles.
func (u User) HasRole(roles ...string) bool {
	return slices.Contains(roles, u.Role)
}

// Claims is the token payload.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier for secret. A non-empty issuer is enforced.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses token and returns its user.
func (v *Verifier) Verify(token string) (User, error) {
	if token == "" {
		return User{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return User{}, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}

	return User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// Issue signs a token for u valid for ttl.
func (v *Verifier) Issue(u User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   fmt.Sprint(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(contextKey{}).(User)
	return u, ok
}

// TokenFromRequest reads a bearer token from the Authorization header or,
// for browser websocket handshakes, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return r.URL.Query().Get("token")
}
