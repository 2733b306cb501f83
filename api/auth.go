package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Auth verifies bearer tokens and extracts the subject claim. Production
// deployments validate RS256 signatures against a JWKS; local mode accepts
// HS256 tokens signed with a shared secret.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string
	localKey []byte
}

// NewAuth creates an Auth validating RS256 tokens against the given JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{jwks: jwks, audience: audience, issuer: issuer}
}

// NewLocalAuth creates an Auth accepting HS256 tokens signed with secret.
func NewLocalAuth(secret string) *Auth {
	return &Auth{localKey: []byte(secret)}
}

func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return "", errors.New("bad auth header")
	}

	tokenStr := parts[1]
	if strings.Count(tokenStr, ".") != 2 {
		return "", errors.New("bad auth header")
	}

	method := "RS256"
	kf := jwt.Keyfunc(nil)
	if a.localKey != nil {
		method = "HS256"
		kf = func(*jwt.Token) (interface{}, error) { return a.localKey, nil }
	} else {
		if a.jwks == nil {
			return "", errors.New("auth not configured")
		}
		kf = a.jwks.Keyfunc
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation())
	token, err := parser.Parse(tokenStr, kf)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyAudience(a.audience, false) {
		return "", errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(a.issuer, false) {
		return "", errors.New("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}

	return sub, nil
}
