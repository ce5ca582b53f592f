// Package crypto implements the cipher engine and key custody primitives:
// AEAD encryption of record payloads, Argon2id KEK derivation, secret
// verifiers, and wrapping of key material.
package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthentication is returned for every cryptographic failure: tag
// mismatch, corrupted input, wrong key. A single sentinel on purpose, so a
// wrong secret is indistinguishable from tampered data.
var ErrAuthentication = errors.New("authentication failure")

// KeyLen is the CEK/KEK size in bytes (256-bit keys).
const KeyLen = chacha20poly1305.KeySize

// TagLen is the Poly1305 authentication tag size.
const TagLen = chacha20poly1305.Overhead

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under key, binding aad.
// A fresh random nonce is drawn per call; the ciphertext, nonce and tag are
// returned separately. Pure over the supplied key material.
func Encrypt(key, plaintext, aad []byte) (ciphertext, nonce, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce, err = RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	n := len(sealed) - TagLen
	return sealed[:n], nonce, sealed[n:], nil
}

// Decrypt opens (ciphertext, nonce, tag) under key with the same aad.
// Fails closed: any mismatch returns ErrAuthentication, never partial
// plaintext.
func Decrypt(key, ciphertext, nonce, tag, aad []byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSizeX || len(tag) != TagLen {
		return nil, ErrAuthentication
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	pt, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// Wipe zeroes b. Call via defer on every buffer holding key material so it
// is cleared on all exit paths.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
