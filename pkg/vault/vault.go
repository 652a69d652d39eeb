// Package vault seals provider credentials at rest.
//
// An empty plaintext is an absent credential: Encrypt("") returns a nil blob
// so the column stays NULL, and Decrypt of an empty blob reports ok=false
// without logging. The round trip holds for every non-empty plaintext.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Vault seals provider credentials at rest. Ciphertext layout is
// version || nonce || sealed, where sealed carries the Poly1305 tag.
type Vault struct {
	key  []byte
	logg *logger.Logger
}

const blobVersion byte = 1

// New derives the AEAD key from secret with HKDF-SHA256 bound to info.
func New(secret, info string, logg *logger.Logger) (*Vault, error) {
	if len(secret) < 32 {
		return nil, errors.New("vault secret must be at least 32 bytes")
	}
	if info == "" {
		return nil, errors.New("vault key context is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return &Vault{key: key, logg: logg}, nil
}

// Encrypt seals plaintext. An empty plaintext is an absent credential and
// yields nil.
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = blobVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[1:], []byte(plaintext), []byte{blobVersion}), nil
}

// Decrypt opens a blob produced by Encrypt. Any failure returns ok=false and
// is logged without the blob contents; it never panics.
func (v *Vault) Decrypt(ctx context.Context, blob []byte) (plaintext string, ok bool) {
	if len(blob) == 0 {
		// absent credential
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			v.reject(ctx, blob, fmt.Errorf("panic during decrypt: %v", r))
			plaintext, ok = "", false
		}
	}()

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		v.reject(ctx, blob, err)
		return "", false
	}
	if len(blob) < 1+aead.NonceSize()+aead.Overhead() {
		v.reject(ctx, blob, errors.New("ciphertext too short"))
		return "", false
	}
	if blob[0] != blobVersion {
		v.reject(ctx, blob, fmt.Errorf("unsupported blob version %d", blob[0]))
		return "", false
	}

	nonce := blob[1 : 1+aead.NonceSize()]
	sealed := blob[1+aead.NonceSize():]
	opened, err := aead.Open(nil, nonce, sealed, []byte{blobVersion})
	if err != nil {
		v.reject(ctx, blob, err)
		return "", false
	}
	return string(opened), true
}

func (v *Vault) reject(ctx context.Context, blob []byte, err error) {
	if v.logg == nil {
		return
	}
	ctx = v.logg.WithFields(ctx, map[string]any{
		"operation": "vault.decrypt",
		"blob_len":  len(blob),
	})
	v.logg.Error(ctx, "credential decrypt rejected", err)
}
