package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthenticateDevToken(t *testing.T) {
	a := NewAuthenticator("dev-secret", "")
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer dev-secret")

	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "dev" || !claims.CanApprove() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAuthenticateMissingAndMalformed(t *testing.T) {
	a := NewAuthenticator("dev-secret", "")
	r := httptest.NewRequest("GET", "/", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrMissingBearer) {
		t.Fatalf("expected missing bearer, got %v", err)
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	r.Header.Set("Authorization", "Bearer wrong")
	if _, err := a.Authenticate(r); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestAuthenticateJWT(t *testing.T) {
	secret := []byte("jwt-secret")
	now := time.Now()
	token, err := IssueToken(secret, "cfo", "cfo@company.com", RoleApprover, time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	a := NewAuthenticator("", string(secret))
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Subject != "cfo" || claims.Email != "cfo@company.com" || !claims.CanApprove() || claims.Token != token {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	secret := []byte("jwt-secret")
	now := time.Now()

	expired, _ := IssueToken(secret, "a", "", RoleViewer, time.Minute, now.Add(-time.Hour))
	if _, err := VerifyToken(secret, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	other, _ := IssueToken([]byte("other"), "a", "", RoleViewer, time.Hour, now)
	if _, err := VerifyToken(secret, other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected bad signature rejected, got %v", err)
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "a", "iss": Issuer, "role": "approver"})
	signed, err := noExp.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyToken(secret, signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token without exp rejected, got %v", err)
	}

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a", "iss": Issuer, "role": "admin", "exp": now.Add(time.Hour).Unix(),
	})
	signed, _ = badRole.SignedString(secret)
	if _, err := VerifyToken(secret, signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown role rejected, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "a", "iss": Issuer, "role": "approver", "exp": now.Add(time.Hour).Unix()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := VerifyToken(secret, unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none rejected, got %v", err)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	if _, err := IssueToken(nil, "a", "", RoleApprover, time.Hour, time.Now()); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := IssueToken([]byte("s"), "a", "", "root", time.Hour, time.Now()); err == nil {
		t.Fatalf("expected error for invalid role")
	}
}
