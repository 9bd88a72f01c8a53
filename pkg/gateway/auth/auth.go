// Package auth resolves the caller's API key and carries it on the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"lukechampine.com/blake3"
)

const apiKeyHeader = "X-API-Key"

// Principal is an authenticated caller. KeyID is safe to log; APIKey is not.
type Principal struct {
	APIKey string
	KeyID  string
}

func NewPrincipal(apiKey string) *Principal {
	return &Principal{APIKey: apiKey, KeyID: KeyID(apiKey)}
}

// KeyID is a short stable fingerprint of an API key.
func KeyID(apiKey string) string {
	sum := blake3.Sum256([]byte(apiKey))
	return "key_" + hex.EncodeToString(sum[:6])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseAPIKey reads a bearer token first, then X-API-Key. A non-bearer Authorization
// header is ignored.
func ParseAPIKey(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	return key, key != ""
}

// KeyAllowed reports whether key is configured. Every configured key is compared in
// constant time.
func KeyAllowed(keys map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	var match int
	for k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return match == 1
}
