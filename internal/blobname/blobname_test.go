package blobname

import (
	"testing"

	"github.com/kenneth/blobvault/internal/crypto"
)

func mustKey(t *testing.T, seed byte) crypto.Key {
	t.Helper()
	var k crypto.Key
	for i := range k {
		k[i] = seed
	}
	return k
}

func TestName_Deterministic(t *testing.T) {
	secret := mustKey(t, 0x42)
	plaintext := []byte("a chunk of plaintext bytes")

	a := Name(secret, plaintext)
	b := Name(secret, plaintext)
	if a != b {
		t.Fatalf("expected deterministic name, got %q and %q", a, b)
	}
}

func TestName_DifferentSecretsDiffer(t *testing.T) {
	plaintext := []byte("identical plaintext for both secrets")
	a := Name(mustKey(t, 0x01), plaintext)
	b := Name(mustKey(t, 0x02), plaintext)
	if a == b {
		t.Fatal("expected names under different secrets to differ")
	}
}

func TestName_DifferentPlaintextsDiffer(t *testing.T) {
	secret := mustKey(t, 0x07)
	a := Name(secret, []byte("chunk one"))
	b := Name(secret, []byte("chunk two"))
	if a == b {
		t.Fatal("expected names of different plaintexts to differ")
	}
}

func TestName_URLSafePadded(t *testing.T) {
	secret := mustKey(t, 0x09)
	name := Name(secret, []byte("some payload"))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
			continue
		default:
			t.Fatalf("unexpected character %q in blob name %q", r, name)
		}
	}
	if len(name) != 44 {
		t.Errorf("expected 44-character name (32-byte HMAC digest, padded base64url), got %d: %q", len(name), name)
	}
}
