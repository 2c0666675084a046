// Package crypto implements authenticated encryption of OAuth tokens at rest.
//
// Tokens are sealed with AES-256-GCM under a key derived per operation from a
// long-lived master key and a fresh random salt. The stored representation is
// a self-contained envelope: base64(salt || iv || tag || ciphertext). The byte
// layout is a compatibility contract with previously stored tokens and must
// not change without versioning the format.
package crypto
