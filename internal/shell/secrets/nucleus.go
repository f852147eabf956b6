package secrets

import (
	"context"
	"fmt"

	"github.com/artpar/nucleus/internal/core/crypto"
	"github.com/artpar/nucleus/internal/core/domain"
)

// NucleusBackend opens values sealed with the platform master key.
type NucleusBackend struct {
	masterKey []byte
}

// NewNucleusBackend creates a backend holding the given master key material.
func NewNucleusBackend(masterKey []byte) *NucleusBackend {
	return &NucleusBackend{masterKey: masterKey}
}

// Resolve implements Backend.
func (b *NucleusBackend) Resolve(_ context.Context, ref domain.SecretsRef) (map[string]string, error) {
	if ref.Type != domain.SecretsNucleus || ref.Nucleus == nil {
		return nil, resolutionError(ref.Type, "not a nucleus reference", nil)
	}
	if len(b.masterKey) == 0 {
		return nil, resolutionError(ref.Type, "decrypt failed", crypto.ErrEmptyMasterKey)
	}

	values := make(map[string]string, len(ref.Nucleus.Values))
	for key, sealed := range ref.Nucleus.Values {
		plaintext, err := crypto.Open(b.masterKey, ref.Nucleus.Context, sealed)
		if err != nil {
			return nil, resolutionError(ref.Type, "decrypt failed", fmt.Errorf("key %s: %w", key, err))
		}
		values[key] = plaintext
	}
	return values, nil
}
