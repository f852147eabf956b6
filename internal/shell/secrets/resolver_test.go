package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/nucleus/internal/core/crypto"
	"github.com/artpar/nucleus/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMaster = []byte("platform-master-secret-for-tests")

func sealedRef(t *testing.T, context string, values map[string]string) *domain.SecretsRef {
	t.Helper()
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		s, err := crypto.Seal(testMaster, context, v)
		require.NoError(t, err)
		sealed[k] = s
	}
	return &domain.SecretsRef{
		Type:    domain.SecretsNucleus,
		Nucleus: &domain.NucleusSecrets{Values: sealed, Context: context},
	}
}

// =============================================================================
// Resolver Tests
// =============================================================================

func TestResolver_NilRef(t *testing.T) {
	r := NewResolver(nil, nil)
	values, err := r.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestResolver_DispatchesByType(t *testing.T) {
	var called []domain.SecretsType
	backend := func(t domain.SecretsType) Backend {
		return BackendFunc(func(_ context.Context, ref domain.SecretsRef) (map[string]string, error) {
			called = append(called, t)
			return map[string]string{"FROM": string(t)}, nil
		})
	}
	r := NewResolver(map[domain.SecretsType]Backend{
		domain.SecretsNucleus: backend(domain.SecretsNucleus),
		domain.SecretsVault:   backend(domain.SecretsVault),
	}, nil)

	values, err := r.Resolve(context.Background(), &domain.SecretsRef{Type: domain.SecretsVault, Vault: &domain.VaultSecrets{}})
	require.NoError(t, err)
	assert.Equal(t, "hashi-vault", values["FROM"])
	assert.Equal(t, []domain.SecretsType{domain.SecretsVault}, called)
}

func TestResolver_UnconfiguredType(t *testing.T) {
	r := NewResolver(map[domain.SecretsType]Backend{
		domain.SecretsNucleus: NewNucleusBackend(testMaster),
	}, nil)

	_, err := r.Resolve(context.Background(), &domain.SecretsRef{Type: domain.SecretsAwsCmk, AwsCmk: &domain.AwsCmkSecrets{}})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindSecretsResolution))
	assert.ElementsMatch(t, []domain.SecretsType{domain.SecretsNucleus}, r.Types())
}

func TestResolver_WrapsBackendErrors(t *testing.T) {
	cause := errors.New("connection refused")
	r := NewResolver(map[domain.SecretsType]Backend{
		domain.SecretsVault: BackendFunc(func(context.Context, domain.SecretsRef) (map[string]string, error) {
			return nil, cause
		}),
	}, nil)

	_, err := r.Resolve(context.Background(), &domain.SecretsRef{Type: domain.SecretsVault, Vault: &domain.VaultSecrets{}})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindSecretsResolution))
	assert.ErrorIs(t, err, cause)
}

func TestResolver_NilValuesBecomeEmpty(t *testing.T) {
	r := NewResolver(map[domain.SecretsType]Backend{
		domain.SecretsVault: BackendFunc(func(context.Context, domain.SecretsRef) (map[string]string, error) {
			return nil, nil
		}),
	}, nil)

	values, err := r.Resolve(context.Background(), &domain.SecretsRef{Type: domain.SecretsVault, Vault: &domain.VaultSecrets{}})
	require.NoError(t, err)
	assert.NotNil(t, values)
}

// =============================================================================
// Nucleus Backend Tests
// =============================================================================

func TestNucleusBackend_Resolve(t *testing.T) {
	ref := sealedRef(t, "svc/foo", map[string]string{"DB_PASSWORD": "hunter2", "API_KEY": "k"})

	values, err := NewNucleusBackend(testMaster).Resolve(context.Background(), *ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DB_PASSWORD": "hunter2", "API_KEY": "k"}, values)
}

func TestNucleusBackend_WrongKey(t *testing.T) {
	ref := sealedRef(t, "svc/foo", map[string]string{"DB_PASSWORD": "hunter2"})

	_, err := NewNucleusBackend([]byte("a-different-master-key-entirely!")).Resolve(context.Background(), *ref)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindSecretsResolution))
	assert.Contains(t, err.Error(), "decrypt failed")
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestNucleusBackend_WrongContext(t *testing.T) {
	ref := sealedRef(t, "svc/foo", map[string]string{"A": "1"})
	ref.Nucleus.Context = "svc/bar"

	_, err := NewNucleusBackend(testMaster).Resolve(context.Background(), *ref)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestNucleusBackend_NoMasterKey(t *testing.T) {
	ref := sealedRef(t, "ctx", map[string]string{"A": "1"})

	_, err := NewNucleusBackend(nil).Resolve(context.Background(), *ref)
	assert.ErrorIs(t, err, crypto.ErrEmptyMasterKey)
}

func TestNucleusBackend_WrongVariant(t *testing.T) {
	_, err := NewNucleusBackend(testMaster).Resolve(context.Background(), domain.SecretsRef{Type: domain.SecretsVault})
	assert.True(t, domain.IsKind(err, domain.KindSecretsResolution))
}
