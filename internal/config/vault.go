package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

type secretReader interface {
	Read(path string) (*api.Secret, error)
}

// newVaultClient is replaced in tests. Address and token come from
// VAULT_ADDR and VAULT_TOKEN; VAULT_NAMESPACE is optional.
var newVaultClient = func() (secretReader, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	switch {
	case addr == "":
		return nil, errors.New("VAULT_ADDR is not set")
	case token == "":
		return nil, errors.New("VAULT_TOKEN is not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}
	return client.Logical(), nil
}

// resolveVault resolves path#key against a KV v1 or v2 mount, e.g.
// secret/data/pgmirror/target#password.
func resolveVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: want path#key", ref)
	}

	client, err := newVaultClient()
	if err != nil {
		return "", err
	}
	secret, err := client.Read(path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no Vault secret at %s", path)
	}

	fields := secret.Data
	// KV v2 nests the fields under "data" next to "metadata".
	if inner, ok := fields["data"].(map[string]any); ok {
		if _, versioned := fields["metadata"]; versioned || len(fields) == 1 {
			fields = inner
		}
	}
	return secretField(fields, key, "Vault secret "+path)
}

// secretField returns fields[key] as a string. what names the secret in
// errors.
func secretField(fields map[string]any, key, what string) (string, error) {
	val, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in %s", key, what)
	}
	switch v := val.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64, bool:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("%s key %q is not a scalar", what, key)
	}
}
