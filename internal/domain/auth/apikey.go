package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned by repositories when no active key matches.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity bound to a stored API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	Role      Role
	SubjectID int64
	Email     string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Keys are stored
// only in this form.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves raw API keys to principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator over the given key repository.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (Principal, error) {
	if key == "" {
		return Principal{}, ErrUnauthenticated
	}

	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return Principal{}, ErrUnauthenticated
	}
	if info.Role == RoleUnknown {
		return Principal{}, ErrUnauthenticated
	}

	return Principal{
		SubjectID: info.SubjectID,
		Email:     info.Email,
		Name:      info.Name,
		Role:      info.Role,
	}, nil
}
