// Package auth authenticates API callers from bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrForbidden     = errors.New("forbidden")
)

const Issuer = "creditgate"

type Role string

const (
	RoleApprover  Role = "approver"
	RoleRequestor Role = "requestor"
	RoleViewer    Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleApprover, RoleRequestor, RoleViewer:
		return true
	default:
		return false
	}
}

type Claims struct {
	Subject string
	Email   string
	Role    Role
	Token   string
}

// CanApprove reports whether the caller may submit approval decisions.
func (c Claims) CanApprove() bool { return c.Role == RoleApprover }

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// MultiAuthenticator accepts the dev token or an HS256 token signed with
// JWTSecret. Either may be left empty to disable it.
type MultiAuthenticator struct {
	DevToken  string
	JWTSecret []byte
}

func NewAuthenticator(devToken, jwtSecret string) *MultiAuthenticator {
	a := &MultiAuthenticator{DevToken: devToken}
	if jwtSecret != "" {
		a.JWTSecret = []byte(jwtSecret)
	}
	return a
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	if a.DevToken != "" && bearer == a.DevToken {
		return Claims{Subject: "dev", Role: RoleApprover, Token: bearer}, nil
	}

	if len(a.JWTSecret) > 0 {
		claims, err := VerifyToken(a.JWTSecret, bearer)
		if err == nil {
			claims.Token = bearer
			return claims, nil
		}
	}

	return Claims{}, ErrInvalidToken
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject.
func IssueToken(secret []byte, subject, email string, role Role, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("auth: empty signing secret")
	}
	if !role.Valid() {
		return "", fmt.Errorf("auth: invalid role %q", role)
	}
	claims := tokenClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken parses and validates an HS256 token.
func VerifyToken(secret []byte, tokenString string) (Claims, error) {
	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || tc.Subject == "" || !tc.Role.Valid() {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: tc.Subject, Email: tc.Email, Role: tc.Role}, nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
