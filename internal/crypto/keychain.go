package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
)

const (
	saltSize = 32
	ivSize   = 16
	tagSize  = 16

	// minEnvelopeBytes is the smallest decodable envelope: headers plus at
	// least one ciphertext byte.
	minEnvelopeBytes = saltSize + ivSize + tagSize + 1

	minMasterKeyChars = 32
)

// Keychain derives per-operation AES-256 keys from a single master secret.
// The master key is validated here, at first use, rather than at config load.
type Keychain struct {
	masterKey string
}

// NewKeychain validates the master key and returns a Keychain.
// The key must be at least 32 characters.
func NewKeychain(masterKey string) (*Keychain, error) {
	if len(masterKey) < minMasterKeyChars {
		return nil, apperrors.ConfigurationError("master key must be at least 32 characters")
	}
	return &Keychain{masterKey: masterKey}, nil
}

// deriveKey computes SHA-256(masterKey + hex(salt)). A deliberately fast,
// single-pass derivation: changing it breaks every stored envelope, so any
// hardening must come with a versioned format.
func (k *Keychain) deriveKey(salt []byte) []byte {
	sum := sha256.Sum256([]byte(k.masterKey + hex.EncodeToString(salt)))
	return sum[:]
}

func (k *Keychain) newGCM(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.deriveKey(salt))
	if err != nil {
		return nil, apperrors.CryptoError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, apperrors.CryptoError("failed to create GCM", err)
	}
	return gcm, nil
}

// sealToken encrypts plaintext with a fresh salt and IV, returning the four
// envelope components. Salt and IV are never reused, even for identical
// plaintext, so two encryptions of the same value differ. Zero-length
// plaintext is supported and yields zero-length ciphertext.
func (k *Keychain) sealToken(plaintext string) (salt, iv, tag, ciphertext []byte, err error) {
	salt = make([]byte, saltSize)
	if _, err = io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, nil, nil, apperrors.CryptoError("failed to generate salt", err)
	}
	iv = make([]byte, ivSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, nil, apperrors.CryptoError("failed to generate iv", err)
	}

	gcm, err := k.newGCM(salt)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// Seal returns ciphertext || tag; the envelope stores them separately.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	return salt, iv, sealed[split:], sealed[:split], nil
}

// openToken derives the key from the supplied salt and decrypts, verifying
// the authentication tag. Tag failure means tampering, corruption, or a key
// mismatch and never returns plaintext.
func (k *Keychain) openToken(salt, iv, tag, ciphertext []byte) (string, error) {
	gcm, err := k.newGCM(salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperrors.CryptoError("decryption failed, possible key mismatch or corrupted data", err)
	}
	return string(plaintext), nil
}
