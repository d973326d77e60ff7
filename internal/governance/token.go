package governance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenEnvVar carries an inline JSON token
const TokenEnvVar = "BDK_TOKEN"

const bcryptCost = 12

// Token is an override credential. It is evaluated fresh per invocation and
// never persisted.
type Token struct {
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
	Scope      []string  `json:"scope"`
	Secret     string    `json:"secret,omitempty"`
}

// TokenState is the lifecycle position of a token.
type TokenState string

const (
	TokenValid         TokenState = "valid"
	TokenExpired       TokenState = "expired"
	TokenScopeMismatch TokenState = "scope_mismatch"
	TokenBadSecret     TokenState = "secret_mismatch"
)

// LoadToken reads a token from path, or from BDK_TOKEN when path is empty.
// Returns nil without error when neither is present.
func LoadToken(path string) (*Token, error) {
	var data []byte
	switch {
	case path != "":
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		data = raw
	case os.Getenv(TokenEnvVar) != "":
		data = []byte(os.Getenv(TokenEnvVar))
	default:
		return nil, nil
	}
	return ParseToken(data)
}

// ParseToken decodes a JSON token.
func ParseToken(data []byte) (*Token, error) {
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.IssuedAt.IsZero() && tok.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("decode token: issued_at or expires_at is required")
	}
	if tok.TTLSeconds < 0 {
		return nil, fmt.Errorf("decode token: ttl_seconds must not be negative")
	}
	return &tok, nil
}

// Expiry returns when the token stops being valid. An explicit expires_at
// wins; otherwise issued_at + ttl_seconds. A token without either bound
// expires at issue time.
func (t *Token) Expiry() time.Time {
	if !t.ExpiresAt.IsZero() {
		return t.ExpiresAt
	}
	return t.IssuedAt.Add(time.Duration(t.TTLSeconds) * time.Second)
}

// HasScope reports whether the token names capability.
func (t *Token) HasScope(capability Capability) bool {
	for _, s := range t.Scope {
		if s == string(capability) || s == "*" {
			return true
		}
	}
	return false
}

// State evaluates the token lifecycle for capability at now. secretHash, when
// non-empty, is the bcrypt hash the token secret must match.
func (t *Token) State(capability Capability, secretHash string, now time.Time) TokenState {
	if !now.Before(t.Expiry()) {
		return TokenExpired
	}
	if !t.IssuedAt.IsZero() && now.Before(t.IssuedAt) {
		// issued in the future: not yet valid, reported as expired
		return TokenExpired
	}
	if !t.HasScope(capability) {
		return TokenScopeMismatch
	}
	if secretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(t.Secret)) != nil {
			return TokenBadSecret
		}
	}
	return TokenValid
}

// HashSecret returns the bcrypt hash to store as token_secret_hash.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}
