// Package seal implements at-rest protection for snapshot files:
// PBKDF2 key derivation, AES-256-GCM sealing with the snapshot id as
// additional authenticated data, and HMAC-SHA512 manifest signatures.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 16

	// MinIterations is the lowest accepted PBKDF2 iteration count.
	MinIterations = 100000

	nonceSize = 12
)

// Key is a derived vault key.
type Key struct {
	aes  []byte
	hmac []byte
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the vault key from a passphrase via PBKDF2-HMAC-SHA256.
// Separate sealing and signing keys are stretched from one passphrase so a
// manifest MAC can never double as a decryption key.
func DeriveKey(passphrase string, salt []byte, iterations int) (*Key, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("iteration count %d below minimum %d", iterations, MinIterations)
	}

	material := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize*2, sha256.New)
	return &Key{
		aes:  material[:KeySize],
		hmac: material[KeySize:],
	}, nil
}

// Seal encrypts plaintext with AES-256-GCM. The snapshot id is bound as
// additional authenticated data, so a sealed file cannot be replayed under
// a different id. The random nonce is prepended to the ciphertext.
func (k *Key) Seal(plaintext []byte, id string) ([]byte, error) {
	block, err := aes.NewCipher(k.aes)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(id))
	return sealed, nil
}

// Unseal decrypts a sealed body produced by Seal. The id must match the id
// the body was sealed under.
func (k *Key) Unseal(sealed []byte, id string) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed body too short: %d bytes", len(sealed))
	}

	block, err := aes.NewCipher(k.aes)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal: %w", err)
	}
	return plaintext, nil
}

// SignManifest computes the HMAC-SHA512 signature over the canonical
// manifest entry encoding. Returned hex-encoded.
func (k *Key) SignManifest(canonical []byte) string {
	mac := hmac.New(sha512.New, k.hmac)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyManifest checks a manifest signature in constant time.
func (k *Key) VerifyManifest(canonical []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, k.hmac)
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), want)
}
