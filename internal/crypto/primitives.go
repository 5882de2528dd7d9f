// Package crypto implements the primitives the backup pipeline is built on:
// an authenticated symmetric box, an anonymous asymmetric sealing box, a
// keyed content hash, and the two secret-derivation paths (passphrase KDF,
// keyfile digest).
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length in bytes of a content secret / symmetric key.
	KeySize = 32

	// SymmetricOverhead is the constant per-message overhead of
	// symmetric_encrypt: a 24-byte nonce plus a 16-byte Poly1305 tag.
	SymmetricOverhead = secretboxNonceSize + secretboxTagSize

	// AsymmetricOverhead is the constant per-message overhead of seal:
	// a 32-byte ephemeral X25519 public key plus a 16-byte Poly1305 tag.
	// This module targets the classical NaCl construction, not the PQ/KEM
	// variant — see DESIGN.md Open Question 1.
	AsymmetricOverhead = asymEphemeralKeySize + secretboxTagSize

	secretboxNonceSize   = 24
	secretboxTagSize     = 16
	asymEphemeralKeySize = 32
)

// CryptoAuthError indicates an AEAD or sealed-box authentication failure.
// It is fatal for the chunk or manifest section being decrypted and is
// never retried.
type CryptoAuthError struct {
	Op  string
	Err error
}

func (e *CryptoAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: authentication failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto: %s: authentication failed", e.Op)
}

func (e *CryptoAuthError) Unwrap() error { return e.Err }

func authErr(op string) error { return &CryptoAuthError{Op: op} }

// Key is a 32-byte symmetric secret. It is always handled by value at rest
// in a fixed-size array so callers cannot accidentally retain a slice alias
// into a buffer that gets reused by a pool.
type Key [KeySize]byte

// NewRandomKey returns a freshly generated random key.
func NewRandomKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("crypto: generate random key: %w", err)
	}
	return k, nil
}

// Zero overwrites the key in place. Go cannot guarantee a variable is wiped
// before the GC reclaims it, but this removes the plaintext from the most
// obvious lifetime window.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// SymmetricEncrypt produces nonce||ciphertext||tag using XSalsa20-Poly1305
// with a fresh random nonce, per spec §4.1.
func SymmetricEncrypt(key Key, plaintext []byte) ([]byte, error) {
	var nonce [secretboxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	out := make([]byte, secretboxNonceSize, secretboxNonceSize+len(plaintext)+secretboxTagSize)
	copy(out, nonce[:])
	out = secretbox.Seal(out, plaintext, &nonce, (*[KeySize]byte)(&key))
	return out, nil
}

// SymmetricDecrypt inverts SymmetricEncrypt. It fails with a *CryptoAuthError
// on tag mismatch or undersized input.
func SymmetricDecrypt(key Key, data []byte) ([]byte, error) {
	if len(data) < secretboxNonceSize+secretboxTagSize {
		return nil, authErr("symmetric_decrypt")
	}
	var nonce [secretboxNonceSize]byte
	copy(nonce[:], data[:secretboxNonceSize])
	plaintext, ok := secretbox.Open(nil, data[secretboxNonceSize:], &nonce, (*[KeySize]byte)(&key))
	if !ok {
		return nil, authErr("symmetric_decrypt")
	}
	return plaintext, nil
}

// PublicKey and PrivateKey are Curve25519 keys used for the anonymous
// sealed box (DataBox in asymmetric mode).
type PublicKey [32]byte
type PrivateKey [32]byte

// GenerateKeypair returns a fresh Curve25519 keypair.
func GenerateKeypair() (PublicKey, PrivateKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return PublicKey(*pub), PrivateKey(*priv), nil
}

// PublicKeyFromPrivate derives the public half of a Curve25519 keypair from
// its private scalar, for loading a --decryption-keyfile that stores only
// the private key (matching the reference tool's PrivateKey.public_key).
func PublicKeyFromPrivate(priv PrivateKey) (PublicKey, error) {
	var pub PublicKey
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("crypto: derive public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// Seal anonymously encrypts plaintext so only the holder of priv matching
// pub can open it. Per-message overhead is AsymmetricOverhead.
func Seal(pub PublicKey, plaintext []byte) ([]byte, error) {
	pk := [32]byte(pub)
	out, err := box.SealAnonymous(nil, plaintext, &pk, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: seal: %w", err)
	}
	return out, nil
}

// Unseal inverts Seal. It fails with a *CryptoAuthError on tag mismatch.
func Unseal(pub PublicKey, priv PrivateKey, data []byte) ([]byte, error) {
	pk := [32]byte(pub)
	sk := [32]byte(priv)
	plaintext, ok := box.OpenAnonymous(nil, data, &pk, &sk)
	if !ok {
		return nil, authErr("unseal")
	}
	return plaintext, nil
}

// KeyedHash computes HMAC-SHA256(key, data), used both for blob naming
// (internal/blobname) and for deriving S from a public key in
// public-key-only mode.
func KeyedHash(key Key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Argon2 parameters for the passphrase KDF. time_cost/memory_cost/
// parallelism are pinned at the spec's documented minimums; raising them is
// safe (still produces the same 32-byte output length) but changes the
// derived secret, so they must never be tuned per-deployment without
// accepting that existing manifests become unreadable by passphrase.
const (
	kdfTime      = 8
	kdfMemoryKiB = 100 * 1024
	kdfThreads   = 8
)

// KDFFromPassphrase derives a 32-byte content secret from a weak
// passphrase using Argon2id, salted with sha256(passphrase) as specified
// in spec §4.1 (the passphrase's own hash stands in for a random salt,
// since the same passphrase must always derive the same secret and no
// separate salt is transmitted or stored).
func KDFFromPassphrase(passphrase []byte) Key {
	salt := sha256.Sum256(passphrase)
	derived := argon2.IDKey(passphrase, salt[:], kdfTime, kdfMemoryKiB, kdfThreads, KeySize)
	var k Key
	copy(k[:], derived)
	return k
}

// SecretFromKeyfile reads r in 16 KiB buffers and returns sha256(contents)
// as the content secret. Keyfiles are assumed to already be high-entropy,
// so a fast hash (rather than a memory-hard KDF) is sufficient.
func SecretFromKeyfile(r io.Reader) (Key, error) {
	h := sha256.New()
	buf := make([]byte, 16*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Key{}, fmt.Errorf("crypto: hash keyfile: %w", err)
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k, nil
}

// ConstantTimeEqual reports whether a and b are equal without leaking
// timing information proportional to the position of the first mismatch.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ErrShortCiphertext is returned by callers that need a sentinel distinct
// from the opaque CryptoAuthError, e.g. when validating a length-prefixed
// header before attempting decryption.
var ErrShortCiphertext = errors.New("crypto: ciphertext shorter than minimum overhead")
