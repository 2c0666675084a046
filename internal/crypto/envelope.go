package crypto

import (
	"encoding/base64"

	apperrors "github.com/steviebd/swole-tracker-sub007/internal/errors"
)

// Fixed envelope offsets: salt(32) || iv(16) || tag(16) || ciphertext(N).
const (
	ivOffset         = saltSize
	tagOffset        = saltSize + ivSize
	ciphertextOffset = saltSize + ivSize + tagSize
)

// Encode encrypts plaintext and packs the result into a single base64 envelope
// string suitable for storage. Empty plaintext is rejected: its envelope would
// carry zero ciphertext bytes, which Decode and IsEnvelope refuse, so it could
// never round-trip.
func (k *Keychain) Encode(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperrors.FormatError("token must be a non-empty string")
	}

	salt, iv, tag, ciphertext, err := k.sealToken(plaintext)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, ciphertextOffset+len(ciphertext))
	buf = append(buf, salt...)
	buf = append(buf, iv...)
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode validates the envelope shape, slices it at fixed offsets, and
// decrypts. Shape problems surface as format errors; cipher-level failures
// surface as crypto errors so callers can tell "not our envelope" apart from
// "right shape, wrong key or tampered".
func (k *Keychain) Decode(envelope string) (string, error) {
	if envelope == "" {
		return "", apperrors.FormatError("token must be a non-empty string")
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", apperrors.FormatError("token must be base64 encoded")
	}

	if len(decoded) < minEnvelopeBytes {
		return "", apperrors.FormatError("decoded data too short")
	}

	return k.openToken(
		decoded[:ivOffset],
		decoded[ivOffset:tagOffset],
		decoded[tagOffset:ciphertextOffset],
		decoded[ciphertextOffset:],
	)
}

// IsEnvelope classifies a string as envelope-shaped without ever failing.
// Legacy plaintext tokens are not valid base64 of sufficient length, so this
// is the discriminator for the plaintext-to-encrypted migration.
func IsEnvelope(candidate string) bool {
	if candidate == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(candidate)
	if err != nil {
		return false
	}
	return len(decoded) >= minEnvelopeBytes
}

// MigrateIfPlaintext returns token unchanged when it is already an envelope,
// otherwise treats it as legacy plaintext and encrypts it. Idempotent: safe to
// run repeatedly across deploys. An empty token has nothing to protect and
// passes through unchanged.
func (k *Keychain) MigrateIfPlaintext(token string) (string, error) {
	if token == "" || IsEnvelope(token) {
		return token, nil
	}
	return k.Encode(token)
}

// DecryptTransparent decrypts envelope-shaped tokens and passes legacy
// plaintext through unchanged, supporting records not yet migrated.
func (k *Keychain) DecryptTransparent(token string) (string, error) {
	if IsEnvelope(token) {
		return k.Decode(token)
	}
	return token, nil
}
