package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
)

// Argon2Params is the KDF work factor. Derivation is deliberately slow;
// tune per deployment, never below the defaults in production.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2 matches the interactive-login cost recommendation.
var DefaultArgon2 = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1}

// DeriveKEK derives a practitioner's key-encryption key from their unlocking
// secret and per-practitioner salt. Deterministic: same secret and salt
// always yield the same KEK. The KEK is never persisted.
func DeriveKEK(secret, kekSalt []byte, p Argon2Params) []byte {
	return argon2.IDKey(secret, kekSalt, p.Time, p.Memory, p.Threads, KeyLen)
}

// HashSecret returns the stored verifier for an unlocking secret.
func HashSecret(secret, authSalt []byte, p Argon2Params) []byte {
	return argon2.IDKey(secret, authSalt, p.Time, p.Memory, p.Threads, KeyLen)
}

// VerifySecret compares a supplied secret against the stored verifier in
// constant time.
func VerifySecret(secret, authSalt, verifier []byte, p Argon2Params) bool {
	got := HashSecret(secret, authSalt, p)
	return subtle.ConstantTimeCompare(got, verifier) == 1
}

// GenerateCEK returns a fresh random content-encryption key. One per record,
// never reused across records.
func GenerateCEK() ([]byte, error) {
	return RandBytes(KeyLen)
}

// WrapKey AEAD-encrypts key material (a private wrap key) under the KEK with
// a random nonce prepended.
func WrapKey(kek, material []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(material)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, material, nil)...)
	return out, nil
}

// UnwrapKey decrypts WrapKey output. A wrong KEK (wrong secret) fails with
// ErrAuthentication, indistinguishable from corrupted data.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < chacha20poly1305.NonceSizeX {
		return nil, ErrAuthentication
	}
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	nonce := wrapped[:chacha20poly1305.NonceSizeX]
	ct := wrapped[chacha20poly1305.NonceSizeX:]
	material, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return material, nil
}

// NewWrapTarget generates a Curve25519 keypair. The public key is the
// practitioner's wrap target; the private half must be wrapped under their
// KEK before it is stored.
func NewWrapTarget() (pub, priv []byte, err error) {
	pk, sk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pk[:], sk[:], nil
}

// SealToTarget seals a CEK to a practitioner's public wrap target. Grants
// use this so the recipient's secret is never needed at grant time.
func SealToTarget(cek, pub []byte) ([]byte, error) {
	if len(pub) != 32 {
		return nil, ErrAuthentication
	}
	var pk [32]byte
	copy(pk[:], pub)
	return box.SealAnonymous(nil, cek, &pk, rand.Reader)
}

// OpenFromTarget recovers a CEK sealed to the practitioner's wrap target
// using their unlocked private key. Fails closed with ErrAuthentication.
func OpenFromTarget(sealed, pub, priv []byte) ([]byte, error) {
	if len(pub) != 32 || len(priv) != 32 {
		return nil, ErrAuthentication
	}
	var pk, sk [32]byte
	copy(pk[:], pub)
	copy(sk[:], priv)
	cek, ok := box.OpenAnonymous(nil, sealed, &pk, &sk)
	if !ok {
		return nil, ErrAuthentication
	}
	return cek, nil
}
