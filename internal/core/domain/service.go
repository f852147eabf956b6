package domain

import "time"

// =============================================================================
// Artifact
// =============================================================================

// ArtifactKind is the discriminant of an Artifact.
type ArtifactKind string

const (
	ArtifactSource ArtifactKind = "source"
	ArtifactImage  ArtifactKind = "image"
)

// Runtime is a supported language runtime for source artifacts.
type Runtime string

const (
	RuntimeNodeJS Runtime = "nodejs"
	RuntimePython Runtime = "python"
	RuntimeGo     Runtime = "go"
)

// Valid reports whether r is one of the supported runtimes.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimeNodeJS, RuntimePython, RuntimeGo:
		return true
	}
	return false
}

// Artifact is the deployable unit of a service. Exactly one payload is set and
// it must match Kind.
type Artifact struct {
	Kind   ArtifactKind    `json:"kind" yaml:"kind"`
	Source *SourceArtifact `json:"source,omitempty" yaml:"source,omitempty"`
	Image  *ImageArtifact  `json:"image,omitempty" yaml:"image,omitempty"`
}

// SourceArtifact is a source tree that has to be built before it can run.
type SourceArtifact struct {
	Runtime   Runtime `json:"runtime" yaml:"runtime"`
	Directory string  `json:"directory" yaml:"directory"`
}

// ImageArtifact is a prebuilt container image.
type ImageArtifact struct {
	Image       string              `json:"image" yaml:"image"`
	Credentials RegistryCredentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// RegistryCredentials authenticate an image pull. Only the scheduler
// interprets them.
type RegistryCredentials struct {
	Username      string `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty"`
	ServerAddress string `json:"serverAddress,omitempty" yaml:"serverAddress,omitempty"`
	IdentityToken string `json:"identityToken,omitempty" yaml:"identityToken,omitempty"`
}

// Empty reports whether no credential field is set.
func (c RegistryCredentials) Empty() bool {
	return c == RegistryCredentials{}
}

// =============================================================================
// Secrets Reference
// =============================================================================

// SecretsType is the discriminant of a SecretsRef.
type SecretsType string

const (
	SecretsNucleus SecretsType = "nucleus"
	SecretsAwsCmk  SecretsType = "aws-cmk"
	SecretsVault   SecretsType = "hashi-vault"
)

// SecretsRef points at the secrets backend holding a service's secrets.
type SecretsRef struct {
	Type    SecretsType     `json:"type" yaml:"type"`
	Nucleus *NucleusSecrets `json:"nucleus,omitempty" yaml:"nucleus,omitempty"`
	AwsCmk  *AwsCmkSecrets  `json:"awsCmk,omitempty" yaml:"awsCmk,omitempty"`
	Vault   *VaultSecrets   `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// NucleusSecrets are values sealed with the platform master key.
// Values holds base64 ciphertext keyed by variable name. Context is bound to
// every value as additional authenticated data.
type NucleusSecrets struct {
	Values  map[string]string `json:"values" yaml:"values"`
	Context string            `json:"context,omitempty" yaml:"context,omitempty"`
}

// AwsCmkSecrets are values encrypted under a customer managed KMS key.
type AwsCmkSecrets struct {
	KmsID      string            `json:"kmsId" yaml:"kmsId"`
	IamRoleArn string            `json:"iamRoleArn" yaml:"iamRoleArn"`
	AccountID  string            `json:"accountId" yaml:"accountId"`
	Region     string            `json:"region,omitempty" yaml:"region,omitempty"`
	Values     map[string]string `json:"values" yaml:"values"`
}

// VaultSecrets reference a KV path in a Vault-compatible server.
//
// Role is the login role for jwt auth. AppRole and token auth identify the
// caller from the server's configured credentials and ignore Role.
type VaultSecrets struct {
	Mount string `json:"mount" yaml:"mount"`
	Path  string `json:"path" yaml:"path"`
	Role  string `json:"role" yaml:"role"`
}

// =============================================================================
// Service Spec
// =============================================================================

// ServiceSpec is the declarative description of a service submitted to deploy.
type ServiceSpec struct {
	Name             string      `json:"name" yaml:"name"`
	BuildCommand     string      `json:"buildCommand,omitempty" yaml:"buildCommand,omitempty"`
	StartCommand     string      `json:"startCommand,omitempty" yaml:"startCommand,omitempty"`
	IsPrivateService bool        `json:"isPrivateService,omitempty" yaml:"isPrivateService,omitempty"`
	EnvVars          EnvVars     `json:"envVars,omitempty" yaml:"envVars,omitempty"`
	Secrets          *SecretsRef `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Artifact         Artifact    `json:"artifact" yaml:"artifact"`

	// AllowedServices names the services this one may call over the
	// internal network.
	AllowedServices []string `json:"allowedServices,omitempty" yaml:"allowedServices,omitempty"`
}

// ServiceResponse carries the endpoints assigned by the compute layer.
type ServiceResponse struct {
	URL         string `json:"url"`
	ExternalURL string `json:"externalUrl"`
	InternalURL string `json:"internalUrl"`
}

// =============================================================================
// Deployment Record
// =============================================================================

// DeployState is a stage of the deploy state machine.
type DeployState string

const (
	StateRequested    DeployState = "requested"
	StateValidating   DeployState = "validating"
	StateBuilding     DeployState = "building"
	StateProvisioning DeployState = "provisioning"
	StateRunning      DeployState = "running"
	StateFailed       DeployState = "failed"
)

// Terminal reports whether s ends a deploy attempt.
func (s DeployState) Terminal() bool {
	return s == StateRunning || s == StateFailed
}

// DeploymentRecord is the registry's view of a service.
type DeploymentRecord struct {
	Name      string          `json:"name"`
	State     DeployState     `json:"state"`
	Response  ServiceResponse `json:"response"`
	Version   int64           `json:"version"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
