package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/nucleus/internal/core/domain"
)

// Vault auth methods.
const (
	VaultAuthJWT     = "jwt"
	VaultAuthAppRole = "approle"
	VaultAuthToken   = "token"
)

var (
	// ErrVaultNotFound is returned when the referenced path holds no secret.
	ErrVaultNotFound = errors.New("vault secret not found")

	// ErrVaultPermissionDenied is returned on 401/403 responses.
	ErrVaultPermissionDenied = errors.New("vault permission denied")
)

// VaultConfig configures how the backend reaches and authenticates to Vault.
type VaultConfig struct {
	Address    string
	Namespace  string
	AuthMethod string // "jwt", "approle" or "token"
	AuthMount  string // defaults to the auth method name

	// JWT auth: the token is read from JWTPath on every login so rotated
	// service account tokens are picked up.
	JWTPath string

	// AppRole auth.
	RoleID   string
	SecretID string

	// Token auth.
	Token string

	Timeout    time.Duration
	MaxRetries int
}

// VaultBackend reads KV v2 secrets from a Vault-compatible server.
type VaultBackend struct {
	config VaultConfig
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewVaultBackend creates a Vault backend.
func NewVaultBackend(cfg VaultConfig, logger *slog.Logger) *VaultBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AuthMethod == "" {
		cfg.AuthMethod = VaultAuthToken
	}
	if cfg.AuthMount == "" {
		cfg.AuthMount = cfg.AuthMethod
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	logger = logger.With("backend", "hashi-vault")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = logger

	return &VaultBackend{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// Resolve implements Backend.
func (b *VaultBackend) Resolve(ctx context.Context, ref domain.SecretsRef) (map[string]string, error) {
	if ref.Type != domain.SecretsVault || ref.Vault == nil {
		return nil, resolutionError(ref.Type, "not a hashi-vault reference", nil)
	}
	v := *ref.Vault
	if v.Mount == "" || v.Path == "" {
		return nil, resolutionError(ref.Type, "mount and path are required", nil)
	}
	if b.config.Address == "" {
		return nil, resolutionError(ref.Type, "no vault address configured", nil)
	}

	token, err := b.login(ctx, v.Role)
	if err != nil {
		return nil, resolutionError(ref.Type, "login", err)
	}

	values, err := b.readKV(ctx, token, v.Mount, v.Path)
	if err != nil {
		return nil, resolutionError(ref.Type, fmt.Sprintf("read %s/%s", v.Mount, v.Path), err)
	}

	b.logger.Debug("read secret", "mount", v.Mount, "path", v.Path, "keys", len(values))
	return values, nil
}

// =============================================================================
// Authentication
// =============================================================================

type vaultAuthResponse struct {
	Auth struct {
		ClientToken string `json:"client_token"`
	} `json:"auth"`
}

// login returns a client token. role is only sent by jwt login.
func (b *VaultBackend) login(ctx context.Context, role string) (string, error) {
	var body map[string]string

	switch b.config.AuthMethod {
	case VaultAuthToken:
		if b.config.Token == "" {
			return "", errors.New("token auth selected but no token configured")
		}
		return b.config.Token, nil

	case VaultAuthJWT:
		jwt, err := os.ReadFile(b.config.JWTPath)
		if err != nil {
			return "", fmt.Errorf("read jwt: %w", err)
		}
		body = map[string]string{"role": role, "jwt": strings.TrimSpace(string(jwt))}

	case VaultAuthAppRole:
		body = map[string]string{"role_id": b.config.RoleID, "secret_id": b.config.SecretID}

	default:
		return "", fmt.Errorf("unsupported auth method %q", b.config.AuthMethod)
	}

	var out vaultAuthResponse
	if err := b.do(ctx, http.MethodPost, "auth/"+b.config.AuthMount+"/login", "", body, &out); err != nil {
		return "", err
	}
	if out.Auth.ClientToken == "" {
		return "", errors.New("login response carried no client token")
	}
	return out.Auth.ClientToken, nil
}

// =============================================================================
// KV v2
// =============================================================================

type vaultKVResponse struct {
	Data struct {
		Data map[string]any `json:"data"`
	} `json:"data"`
}

func (b *VaultBackend) readKV(ctx context.Context, token, mount, path string) (map[string]string, error) {
	var out vaultKVResponse
	apiPath := fmt.Sprintf("%s/data/%s", strings.Trim(mount, "/"), strings.TrimLeft(path, "/"))
	if err := b.do(ctx, http.MethodGet, apiPath, token, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.Data == nil {
		return nil, ErrVaultNotFound
	}

	values := make(map[string]string, len(out.Data.Data))
	for k, v := range out.Data.Data {
		switch val := v.(type) {
		case string:
			values[k] = val
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", k, err)
			}
			values[k] = string(encoded)
		}
	}
	return values, nil
}

// =============================================================================
// Transport
// =============================================================================

func (b *VaultBackend) do(ctx context.Context, method, apiPath, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	url := strings.TrimRight(b.config.Address, "/") + "/v1/" + apiPath
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytesOrNil(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Vault-Token", token)
	}
	if b.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", b.config.Namespace)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrVaultNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrVaultPermissionDenied, vaultErrors(resp.Body))
	case resp.StatusCode >= 300:
		return fmt.Errorf("vault returned %d: %s", resp.StatusCode, vaultErrors(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode vault response: %w", err)
	}
	return nil
}

func bytesOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// vaultErrors extracts the "errors" array Vault puts in failure bodies.
func vaultErrors(r io.Reader) string {
	var body struct {
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil || len(body.Errors) == 0 {
		return "no details"
	}
	return strings.Join(body.Errors, "; ")
}
