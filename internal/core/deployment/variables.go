package deployment

import "slices"

// =============================================================================
// Effective Environment
// =============================================================================

// EffectiveEnv merges resolved secrets with the user's explicit env vars.
// Explicit env vars win on key collision so a secret never silently overrides
// an intentional value. Values pass through verbatim: "${NAME}" in an explicit
// value reaches the container as written.
//
// Neither input is modified.
//
// Example:
//
//	EffectiveEnv(map[string]string{"FOO": "explicit"}, map[string]string{"FOO": "secret", "DB": "pw"})
//	// Returns: {"FOO": "explicit", "DB": "pw"}
func EffectiveEnv(user, secrets map[string]string) map[string]string {
	env := make(map[string]string, len(user)+len(secrets))
	for k, v := range secrets {
		env[k] = v
	}
	for k, v := range user {
		env[k] = v
	}
	return env
}

// SortedKeys returns the keys of env in lexical order. Used wherever env
// contents are logged: keys only, never values.
func SortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
