package crypto

import "context"

// StaticKeyManager is the no-KMS default: WrapKey/UnwrapKey are identity
// operations over the plaintext secret. It exists so the rest of the
// pipeline can always go through the KeyManager interface regardless of
// whether an external KMS is configured.
type StaticKeyManager struct{}

// NewStaticKeyManager returns the default, no-op KeyManager.
func NewStaticKeyManager() *StaticKeyManager { return &StaticKeyManager{} }

func (m *StaticKeyManager) Provider() string { return "static" }

func (m *StaticKeyManager) WrapKey(_ context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	ciphertext := make([]byte, len(plaintext))
	copy(ciphertext, plaintext)
	return &KeyEnvelope{Provider: m.Provider(), KeyVersion: 1, Ciphertext: ciphertext}, nil
}

func (m *StaticKeyManager) UnwrapKey(_ context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	plaintext := make([]byte, len(envelope.Ciphertext))
	copy(plaintext, envelope.Ciphertext)
	return plaintext, nil
}

func (m *StaticKeyManager) ActiveKeyVersion(_ context.Context) (int, error) { return 1, nil }

func (m *StaticKeyManager) HealthCheck(_ context.Context) error { return nil }

func (m *StaticKeyManager) Close(_ context.Context) error { return nil }
