package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validImageSpec() ServiceSpec {
	return ServiceSpec{
		Name: "foo-service",
		Artifact: Artifact{
			Kind:  ArtifactImage,
			Image: &ImageArtifact{Image: "hello-world"},
		},
	}
}

// =============================================================================
// Name Validation Tests
// =============================================================================

func TestValidateServiceName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"simple", "web", true},
		{"with hyphen and digit", "foo-service-2", true},
		{"empty", "", false},
		{"uppercase", "Web", false},
		{"leading digit", "1web", false},
		{"underscore", "foo_service", false},
		{"too long", strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceName(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsKind(err, KindValidation))
			}
		})
	}
}

// =============================================================================
// Spec Validation Tests
// =============================================================================

func TestValidateSpec_Valid(t *testing.T) {
	spec := validImageSpec()
	spec.EnvVars = EnvVars{"FOO": "bar", "_X1": "y"}
	spec.Secrets = &SecretsRef{Type: SecretsVault, Vault: &VaultSecrets{Mount: "secret", Path: "foo", Role: "deploy"}}

	assert.NoError(t, ValidateSpec(spec))
}

func TestValidateSpec_InvalidEnvKey(t *testing.T) {
	spec := validImageSpec()
	spec.EnvVars = EnvVars{"BAD-KEY": "x"}

	err := ValidateSpec(spec)
	assert.True(t, IsKind(err, KindValidation))
}

func TestValidateSpec_AllowedServices(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		wantErr string
	}{
		{"valid", []string{"db", "cache-1"}, ""},
		{"bad name", []string{"Bad_Name"}, "invalid allowed service"},
		{"self", []string{"db", "foo-service"}, "cannot list itself"},
		{"duplicate", []string{"db", "db"}, "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validImageSpec()
			spec.AllowedServices = tt.allowed
			err := ValidateSpec(spec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSpec_ArtifactShape(t *testing.T) {
	spec := validImageSpec()
	spec.Artifact = Artifact{Kind: ArtifactSource, Image: &ImageArtifact{Image: "x"}}

	err := ValidateSpec(spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized artifact")
}

func TestValidateSpec_SecretsShape(t *testing.T) {
	tests := []struct {
		name string
		ref  SecretsRef
	}{
		{"unknown type", SecretsRef{Type: "gcp-sm", Vault: &VaultSecrets{}}},
		{"tag without payload", SecretsRef{Type: SecretsAwsCmk}},
		{"mismatched payload", SecretsRef{Type: SecretsNucleus, Vault: &VaultSecrets{}}},
		{"two payloads", SecretsRef{Type: SecretsNucleus, Nucleus: &NucleusSecrets{}, Vault: &VaultSecrets{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validImageSpec()
			spec.Secrets = &tt.ref
			assert.True(t, IsKind(ValidateSpec(spec), KindValidation))
		})
	}
}

// =============================================================================
// EnvVars Decoding Tests
// =============================================================================

func TestEnvVars_UnmarshalJSON(t *testing.T) {
	var spec ServiceSpec
	err := json.Unmarshal([]byte(`{"name":"a","envVars":{"A":"1","B":"2"}}`), &spec)
	require.NoError(t, err)
	assert.Equal(t, EnvVars{"A": "1", "B": "2"}, spec.EnvVars)
}

func TestEnvVars_UnmarshalJSON_Duplicate(t *testing.T) {
	var spec ServiceSpec
	err := json.Unmarshal([]byte(`{"name":"a","envVars":{"A":"1","A":"2"}}`), &spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestEnvVars_UnmarshalJSON_NonString(t *testing.T) {
	var env EnvVars
	assert.Error(t, json.Unmarshal([]byte(`{"A":1}`), &env))
	assert.Error(t, json.Unmarshal([]byte(`["A"]`), &env))
}

func TestEnvVars_UnmarshalJSON_Null(t *testing.T) {
	env := EnvVars{"A": "1"}
	require.NoError(t, json.Unmarshal([]byte(`null`), &env))
	assert.Nil(t, env)
}

// =============================================================================
// Log Window Tests
// =============================================================================

func TestParseLogWindow(t *testing.T) {
	for _, s := range []string{"15m", "1h", "1d"} {
		w, err := ParseLogWindow(s)
		require.NoError(t, err)
		assert.Equal(t, LogWindow(s), w)
	}

	for _, s := range []string{"30m", "15min", "", "1w"} {
		_, err := ParseLogWindow(s)
		assert.True(t, IsKind(err, KindValidation), s)
	}
}

func TestLogWindow_Duration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, LogWindow15m.Duration())
	assert.Equal(t, time.Hour, LogWindow1h.Duration())
	assert.Equal(t, 24*time.Hour, LogWindow1d.Duration())
}

// =============================================================================
// Error Tests
// =============================================================================

func TestError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("access denied")
	err := fmt.Errorf("outer: %w", NewError(KindSecretsResolution, "Resolve", "aws-cmk", cause))

	assert.Equal(t, KindSecretsResolution, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, ValidationError("op", "bad").Retryable())
	assert.True(t, NewError(KindConflict, "op", "busy", nil).Retryable())
	assert.False(t, NewError(KindBuild, "op", "failed", nil).Retryable())
	assert.False(t, NotFoundError("op", "x").Retryable())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("%w: no capacity", ErrTransient)))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestDeployState_Terminal(t *testing.T) {
	assert.True(t, StateRunning.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateBuilding.Terminal())
}
