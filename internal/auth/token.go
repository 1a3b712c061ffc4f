// ABOUTME: Bearer token verification for the MCP endpoint
// ABOUTME: Supports static config tokens and HS256 signed JWTs

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier checks a bearer token and returns a stable client id.
type TokenVerifier interface {
	Verify(tokenString string) (clientID string, err error)
}

// StaticVerifier accepts a fixed set of tokens from config. Each token maps
// to a short fingerprint-derived client id so logs never carry the secret.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier builds a verifier for the given tokens. Empty entries
// are ignored.
func NewStaticVerifier(tokens []string) *StaticVerifier {
	m := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		sum := sha256.Sum256([]byte(t))
		m[t] = "token-" + hex.EncodeToString(sum[:4])
	}
	return &StaticVerifier{tokens: m}
}

// Verify returns the client id for a known token.
func (v *StaticVerifier) Verify(tokenString string) (string, error) {
	id, ok := v.tokens[tokenString]
	if !ok {
		return "", ErrInvalidToken
	}
	return id, nil
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the client id from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (clientID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new JWT token for the given client id with expiration
func (v *JWTVerifier) Generate(clientID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": clientID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Chain tries each verifier in order and accepts the first match.
type Chain []TokenVerifier

// Verify implements TokenVerifier over the chain.
func (c Chain) Verify(tokenString string) (string, error) {
	var lastErr error = ErrInvalidToken
	for _, v := range c {
		id, err := v.Verify(tokenString)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return "", lastErr
}
