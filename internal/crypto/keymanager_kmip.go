package crypto

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/kmipclient"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names one wrapping key known to the KMIP server, by its
// unique identifier and the version blobvault should record in an issued
// KeyEnvelope. Multiple references let a deployment support key rotation:
// the newest reference is used to wrap, and UnwrapKey falls back through
// older references by KeyVersion when an envelope predates the current
// active key.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// CosmianKMIPOptions configures a CosmianKMIPManager.
type CosmianKMIPOptions struct {
	Endpoint  string
	Keys      []KMIPKeyReference
	TLSConfig *tls.Config
	Timeout   time.Duration
	Provider  string

	// DualReadWindow allows UnwrapKey to accept envelopes wrapped under up
	// to this many key versions behind the active one, to tolerate an
	// in-flight rotation.
	DualReadWindow int
}

// CosmianKMIPManager wraps/unwraps the content secret S through a KMIP 2.x
// server (Cosmian or any compatible implementation) so S is never written
// to disk in plaintext, only its KMIP envelope is.
type CosmianKMIPManager struct {
	client   *kmipclient.Client
	provider string
	timeout  time.Duration

	mu       sync.RWMutex
	byID     map[string]KMIPKeyReference
	active   KMIPKeyReference
	dualRead int
}

// NewCosmianKMIPManager dials the configured KMIP endpoint and returns a
// ready KeyManager.
func NewCosmianKMIPManager(opts CosmianKMIPOptions) (*CosmianKMIPManager, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("crypto: kmip: endpoint is required")
	}
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("crypto: kmip: at least one key reference is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	provider := opts.Provider
	if provider == "" {
		provider = "cosmian-kmip"
	}

	dialOpts := []kmipclient.Option{kmipclient.WithTimeout(timeout)}
	if opts.TLSConfig != nil {
		dialOpts = append(dialOpts, kmipclient.WithTLSConfig(opts.TLSConfig))
	}
	client, err := kmipclient.Dial(opts.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("crypto: kmip: dial %s: %w", opts.Endpoint, err)
	}

	byID := make(map[string]KMIPKeyReference, len(opts.Keys))
	var active KMIPKeyReference
	for _, k := range opts.Keys {
		byID[k.ID] = k
		if k.Version >= active.Version {
			active = k
		}
	}

	return &CosmianKMIPManager{
		client:   client,
		provider: provider,
		timeout:  timeout,
		byID:     byID,
		active:   active,
		dualRead: opts.DualReadWindow,
	}, nil
}

func (m *CosmianKMIPManager) Provider() string { return m.provider }

// WrapKey encrypts plaintext (the content secret S, or a KMIP-wrapped
// per-run value) under the active wrapping key.
func (m *CosmianKMIPManager) WrapKey(ctx context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := kmipclient.Request[*payloads.EncryptResponsePayload](ctx, m.client, kmip.OperationEncrypt, &payloads.EncryptRequestPayload{
		UniqueIdentifier: active.ID,
		Data:             plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: kmip: wrap key %s: %w", active.ID, err)
	}

	return &KeyEnvelope{
		KeyID:      active.ID,
		KeyVersion: active.Version,
		Provider:   m.provider,
		Ciphertext: resp.Data,
	}, nil
}

// UnwrapKey decrypts an envelope previously produced by WrapKey, using the
// wrapping key named in the envelope if present, falling back to a
// version lookup within DualReadWindow otherwise.
func (m *CosmianKMIPManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	keyID := envelope.KeyID
	if keyID == "" {
		ref, err := m.referenceForVersion(envelope.KeyVersion)
		if err != nil {
			return nil, err
		}
		keyID = ref.ID
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := kmipclient.Request[*payloads.DecryptResponsePayload](ctx, m.client, kmip.OperationDecrypt, &payloads.DecryptRequestPayload{
		UniqueIdentifier: keyID,
		Data:             envelope.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: kmip: unwrap key %s: %w", keyID, err)
	}
	return resp.Data, nil
}

func (m *CosmianKMIPManager) referenceForVersion(version int) (KMIPKeyReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ref := range m.byID {
		if ref.Version != version {
			continue
		}
		if m.active.Version-ref.Version > m.dualRead {
			return KMIPKeyReference{}, fmt.Errorf("crypto: kmip: key version %d is more than %d version(s) behind active version %d", version, m.dualRead, m.active.Version)
		}
		return ref, nil
	}
	return KMIPKeyReference{}, fmt.Errorf("crypto: kmip: no key reference for version %d", version)
}

// ActiveKeyVersion returns the version of the key WrapKey currently uses.
func (m *CosmianKMIPManager) ActiveKeyVersion(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Version, nil
}

// HealthCheck performs a lightweight Get against the active key to confirm
// the KMIP server is reachable and the key exists.
func (m *CosmianKMIPManager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := kmipclient.Request[*payloads.GetResponsePayload](ctx, m.client, kmip.OperationGet, &payloads.GetRequestPayload{
		UniqueIdentifier: active.ID,
	})
	if err != nil {
		return fmt.Errorf("crypto: kmip: health check: %w", err)
	}
	return nil
}

// Close releases the underlying KMIP connection.
func (m *CosmianKMIPManager) Close(_ context.Context) error {
	return m.client.Close()
}
