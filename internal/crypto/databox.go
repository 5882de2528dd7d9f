package crypto

// DataBox is the authenticated box used to encrypt chunks and the manifest
// body. In passphrase/keyfile mode it is the symmetric box keyed by S; in
// asymmetric mode it is the sealed box over a Curve25519 keypair. Decrypt
// requires the private key and is only possible when DataBox was
// constructed with one.
type DataBox interface {
	// Encrypt seals plaintext for this box.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt opens ciphertext previously produced by Encrypt. Returns
	// *CryptoAuthError if the caller lacks the key material to decrypt
	// (e.g. a public-key-only box) or authentication fails.
	Decrypt(ciphertext []byte) ([]byte, error)
	// Overhead returns the constant per-message ciphertext overhead:
	// SymmetricOverhead or AsymmetricOverhead depending on box kind.
	Overhead() int
	// Asymmetric reports whether this box is a sealed box (true) or a
	// symmetric secretbox keyed by S (false).
	Asymmetric() bool
}

// SymmetricBox wraps a Key as a DataBox. Used for both B_idx always, and
// for B_data in passphrase/keyfile mode.
type SymmetricBox struct {
	key Key
}

// NewSymmetricBox constructs a DataBox keyed by key.
func NewSymmetricBox(key Key) SymmetricBox { return SymmetricBox{key: key} }

func (b SymmetricBox) Encrypt(plaintext []byte) ([]byte, error) {
	return SymmetricEncrypt(b.key, plaintext)
}

func (b SymmetricBox) Decrypt(ciphertext []byte) ([]byte, error) {
	return SymmetricDecrypt(b.key, ciphertext)
}

func (b SymmetricBox) Overhead() int   { return SymmetricOverhead }
func (b SymmetricBox) Asymmetric() bool { return false }

// SealedBox wraps a Curve25519 keypair as a DataBox. Encrypt only requires
// the public key; Decrypt requires the private key and returns a
// *CryptoAuthError if HasPrivate is false.
type SealedBox struct {
	Pub        PublicKey
	Priv       PrivateKey
	HasPrivate bool
}

// NewSealedBoxForEncrypt constructs a DataBox that can only encrypt
// (public-key-only mode).
func NewSealedBoxForEncrypt(pub PublicKey) SealedBox {
	return SealedBox{Pub: pub}
}

// NewSealedBoxForDecrypt constructs a DataBox that can both encrypt and
// decrypt (full keypair held).
func NewSealedBoxForDecrypt(pub PublicKey, priv PrivateKey) SealedBox {
	return SealedBox{Pub: pub, Priv: priv, HasPrivate: true}
}

func (b SealedBox) Encrypt(plaintext []byte) ([]byte, error) {
	return Seal(b.Pub, plaintext)
}

func (b SealedBox) Decrypt(ciphertext []byte) ([]byte, error) {
	if !b.HasPrivate {
		return nil, authErr("unseal: no private key held")
	}
	return Unseal(b.Pub, b.Priv, ciphertext)
}

func (b SealedBox) Overhead() int   { return AsymmetricOverhead }
func (b SealedBox) Asymmetric() bool { return true }
