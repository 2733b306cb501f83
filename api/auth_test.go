package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "local-test-secret"

func signLocalToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestLocalAuthAcceptsValidToken(t *testing.T) {
	auth := NewLocalAuth(testSecret)
	tokenStr := signLocalToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestLocalAuthRejectsBadTokens(t *testing.T) {
	auth := NewLocalAuth(testSecret)

	expired := signLocalToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	})
	missingSub := signLocalToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"no scheme", "garbage"},
		{"not a jwt", "Bearer garbage"},
		{"many periods", "Bearer " + strings.Repeat(".", 10000)},
		{"expired", "Bearer " + expired},
		{"missing sub", "Bearer " + missingSub},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.UserIDFromAuthHeader(tc.header); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLocalAuthRejectsWrongSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	auth := NewLocalAuth(testSecret)
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}
