package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// =============================================================================
// Names
// =============================================================================

// Service names become container names and hostnames, so they follow DNS
// label rules.
var (
	serviceNameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	envKeyRegex      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

const maxServiceNameLength = 63

// ValidateServiceName checks that name is usable as a service identity.
func ValidateServiceName(name string) error {
	if name == "" {
		return ValidationError("ValidateServiceName", "name is required")
	}
	if len(name) > maxServiceNameLength {
		return ValidationError("ValidateServiceName", fmt.Sprintf("name must be at most %d characters", maxServiceNameLength))
	}
	if !serviceNameRegex.MatchString(name) {
		return ValidationError("ValidateServiceName", "name must start with a lowercase letter and contain only lowercase letters, digits and hyphens")
	}
	return nil
}

// =============================================================================
// Environment Variables
// =============================================================================

// EnvVars maps variable names to values. Decoding rejects duplicate keys
// instead of silently keeping the last one.
type EnvVars map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (e *EnvVars) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("envVars must be an object")
	}

	out := make(EnvVars)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("envVars[%s]: %w", key, err)
		}
		if _, dup := out[key]; dup {
			return fmt.Errorf("envVars: duplicate key %q", key)
		}
		out[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*e = out
	return nil
}

// ValidEnvVarName reports whether key is usable as an environment variable
// name.
func ValidEnvVarName(key string) bool {
	return envKeyRegex.MatchString(key)
}

// =============================================================================
// Spec Validation
// =============================================================================

// ValidateSpec shape-checks a service spec. It covers the name, the env var
// keys and the artifact and secrets tags; variant contents are checked by the
// resolvers that consume them.
func ValidateSpec(spec ServiceSpec) error {
	if err := ValidateServiceName(spec.Name); err != nil {
		return err
	}

	for key := range spec.EnvVars {
		if !ValidEnvVarName(key) {
			return ValidationError("ValidateSpec", fmt.Sprintf("invalid env var name %q", key))
		}
	}

	seen := make(map[string]bool, len(spec.AllowedServices))
	for _, dep := range spec.AllowedServices {
		if err := ValidateServiceName(dep); err != nil {
			return ValidationError("ValidateSpec", fmt.Sprintf("invalid allowed service %q", dep))
		}
		if dep == spec.Name {
			return ValidationError("ValidateSpec", "a service cannot list itself in allowedServices")
		}
		if seen[dep] {
			return ValidationError("ValidateSpec", fmt.Sprintf("allowed service %q listed twice", dep))
		}
		seen[dep] = true
	}

	if err := validateArtifactShape(spec.Artifact); err != nil {
		return err
	}

	if spec.Secrets != nil {
		if err := validateSecretsShape(*spec.Secrets); err != nil {
			return err
		}
	}

	return nil
}

func validateArtifactShape(a Artifact) error {
	var ok bool
	switch a.Kind {
	case ArtifactSource:
		ok = a.Source != nil && a.Image == nil
	case ArtifactImage:
		ok = a.Image != nil && a.Source == nil
	}
	if !ok {
		return ValidationError("ValidateSpec", "unrecognized artifact")
	}
	return nil
}

func validateSecretsShape(ref SecretsRef) error {
	set := 0
	for _, present := range []bool{ref.Nucleus != nil, ref.AwsCmk != nil, ref.Vault != nil} {
		if present {
			set++
		}
	}

	var ok bool
	switch ref.Type {
	case SecretsNucleus:
		ok = ref.Nucleus != nil
	case SecretsAwsCmk:
		ok = ref.AwsCmk != nil
	case SecretsVault:
		ok = ref.Vault != nil
	}
	if !ok || set != 1 {
		return ValidationError("ValidateSpec", "unrecognized secrets reference")
	}
	return nil
}

// =============================================================================
// Log Window
// =============================================================================

// LogWindow is a trailing time range for historical log queries.
type LogWindow string

const (
	LogWindow15m LogWindow = "15m"
	LogWindow1h  LogWindow = "1h"
	LogWindow1d  LogWindow = "1d"
)

// ParseLogWindow accepts exactly the values of the closed LogWindow set.
func ParseLogWindow(s string) (LogWindow, error) {
	switch w := LogWindow(s); w {
	case LogWindow15m, LogWindow1h, LogWindow1d:
		return w, nil
	}
	return "", ValidationError("ParseLogWindow", fmt.Sprintf("invalid log window %q: allowed values are 15m, 1h, 1d", s))
}

// Duration returns the length of the window.
func (w LogWindow) Duration() time.Duration {
	switch w {
	case LogWindow15m:
		return 15 * time.Minute
	case LogWindow1h:
		return time.Hour
	case LogWindow1d:
		return 24 * time.Hour
	}
	return 0
}
