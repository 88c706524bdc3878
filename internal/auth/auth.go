// Package auth resolves bearer API keys to principals.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

// Roles
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

var (
	// ErrUnauthorized is returned for a missing or unknown credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Principal is an authenticated caller
type Principal struct {
	ID   string
	Name string
	Role string
}

// HasRole reports whether the principal holds role. Admins hold every role.
func (p *Principal) HasRole(role string) bool {
	return p.Role == role || p.Role == RoleAdmin
}

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// APIKey is a configured key, stored as the hex SHA-256 of the secret.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Role    string
}

// APIKeyAuthenticator authenticates against a fixed set of hashed API keys.
type APIKeyAuthenticator struct {
	keys map[string]APIKey
}

// NewAPIKeyAuthenticator indexes keys by hash.
func NewAPIKeyAuthenticator(keys []APIKey) *APIKeyAuthenticator {
	idx := make(map[string]APIKey, len(keys))
	for _, k := range keys {
		idx[strings.ToLower(k.KeyHash)] = k
	}
	return &APIKeyAuthenticator{keys: idx}
}

// HashKey returns the stored form of a raw API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticate hashes token and looks it up, comparing the stored hash in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	sum := sha256.Sum256([]byte(token))
	info, ok := a.keys[hex.EncodeToString(sum[:])]
	if !ok {
		return nil, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum[:], stored) != 1 {
		return nil, ErrUnauthorized
	}

	return &Principal{ID: info.ID, Name: info.Name, Role: info.Role}, nil
}

// ParseKeys parses "id:role:sha256hex" entries separated by commas.
func ParseKeys(raw string) ([]APIKey, error) {
	var keys []APIKey
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, errors.Errorf("invalid api key entry %q", entry)
		}
		if parts[1] != RoleAdmin && parts[1] != RoleCustomer {
			return nil, errors.Errorf("api key %q: unknown role %q", parts[0], parts[1])
		}
		if _, err := hex.DecodeString(parts[2]); err != nil || len(parts[2]) != sha256.Size*2 {
			return nil, errors.Errorf("api key %q: hash must be hex sha256", parts[0])
		}
		keys = append(keys, APIKey{ID: parts[0], Name: parts[0], Role: parts[1], KeyHash: strings.ToLower(parts[2])})
	}
	return keys, nil
}
