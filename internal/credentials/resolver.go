// Package credentials resolves credential references into usable provider keys.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/linkforge/harvester/internal/harvest"
)

// EncryptedCredential is the at-rest form of a provider credential. Ciphertext
// fields are base64-encoded AES-GCM with the nonce prefixed.
type EncryptedCredential struct {
	ID                 uuid.UUID
	APIKeyCiphertext   string
	EngineIDCiphertext string
}

// Store loads encrypted credential records.
type Store interface {
	GetCredential(ctx context.Context, id uuid.UUID) (EncryptedCredential, error)
}

// Resolver decrypts stored credentials on demand.
type Resolver struct {
	store Store
	aead  cipher.AEAD
}

// NewResolver derives the AES key from secret and wraps the store.
func NewResolver(store Store, secret string) (*Resolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Resolver{store: store, aead: aead}, nil
}

// Resolve loads and decrypts the credential. Missing refs surface as
// harvest.ErrNotFound, undecryptable records as harvest.ErrDecryption.
func (r *Resolver) Resolve(ctx context.Context, id uuid.UUID) (harvest.Credential, error) {
	rec, err := r.store.GetCredential(ctx, id)
	if err != nil {
		return harvest.Credential{}, fmt.Errorf("load credential %s: %w", id, err)
	}
	apiKey, err := r.decrypt(rec.APIKeyCiphertext)
	if err != nil {
		return harvest.Credential{}, fmt.Errorf("credential %s api key: %w", id, err)
	}
	engineID, err := r.decrypt(rec.EngineIDCiphertext)
	if err != nil {
		return harvest.Credential{}, fmt.Errorf("credential %s engine id: %w", id, err)
	}
	return harvest.Credential{ID: rec.ID, APIKey: apiKey, EngineID: engineID}, nil
}

// Encrypt seals a plaintext value for storage. Used by seeding tooling and tests.
func (r *Resolver) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := r.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *Resolver) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", harvest.ErrDecryption)
	}
	if len(raw) < r.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", harvest.ErrDecryption)
	}
	nonce, ciphertext := raw[:r.aead.NonceSize()], raw[r.aead.NonceSize():]
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", harvest.ErrDecryption, err)
	}
	return string(plaintext), nil
}
