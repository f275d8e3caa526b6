package jwtx

import (
	"errors"
	"sync"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds all public verification keys in memory. It is thread-safe,
// so both the HTTP layer (for JWKS publishing) and the verifier can share
// one instance.
type KeySet struct {
	mu  sync.RWMutex
	set jwk.Set
	pub map[string]any // kid: *rsa.PublicKey | ed25519.PublicKey | *ecdsa.PublicKey
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{
		set: jwk.NewSet(),
		pub: make(map[string]any),
	}
}

// AddSigner registers a Signer's public JWK into the KeySet.
func (k *KeySet) AddSigner(s Signer) error {
	return k.AddJWK(s.PublicJWK())
}

// AddJWK adds a public JWK to the KeySet and exports it into a usable
// crypto key for verification.
func (k *KeySet) AddJWK(key jwk.Key) error {
	kid, ok := key.KeyID()
	if !ok || kid == "" {
		return errors.New("jwtx: JWK missing kid")
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.set.AddKey(key); err != nil {
		return err
	}
	k.pub[kid] = raw
	return nil
}

// Get returns the raw public key for the given kid.
func (k *KeySet) Get(kid string) (any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// PublicJWKS returns the KeySet's jwk.Set for HTTP serving. The set only
// ever contains public keys, so it is safe to marshal directly.
func (k *KeySet) PublicJWKS() jwk.Set {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.set
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub) > 0
}
