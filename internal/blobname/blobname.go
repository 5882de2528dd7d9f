// Package blobname computes content-addressed names for plaintext chunks.
package blobname

import (
	"encoding/base64"

	"github.com/kenneth/blobvault/internal/crypto"
)

// Name returns the content-addressed name of plaintext under secret: the
// URL-safe, padded base64 encoding of HMAC-SHA256(secret, plaintext) — 44
// characters, matching the reference tool's urlsafe_b64encode output.
//
// Two invocations with the same secret and the same chunk bytes always
// produce the same name, which is what gives chunk storage natural dedup
// across files and across runs. A party without secret cannot precompute the
// name of a chosen plaintext, which rules out confirmation attacks against a
// known-plaintext victim file stored under someone else's secret.
func Name(secret crypto.Key, plaintext []byte) string {
	digest := crypto.KeyedHash(secret, plaintext)
	return base64.URLEncoding.EncodeToString(digest[:])
}
