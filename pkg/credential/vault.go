package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultSource reads KV v2 secrets.
//
// Locators are "mount/path" or "mount/path#field". Without a field, the whole
// secret data is returned as a JSON object. With a field, its value is returned.
type VaultSource struct {
	client    *vault.Client
	tokenFile string
}

// NewVaultSource creates a Source for vault://.
//
// The token is read from tokenFile on each read, so that a renewed token is used.
// With empty tokenFile, the client's default (VAULT_TOKEN) is used.
func NewVaultSource(addr, tokenFile, namespace string) (*VaultSource, error) {
	conf := vault.DefaultConfig()
	if conf.Error != nil {
		return nil, conf.Error
	}
	conf.Address = addr

	client, err := vault.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if namespace != "" {
		client.SetNamespace(namespace)
	}
	return &VaultSource{client: client, tokenFile: tokenFile}, nil
}

func (v *VaultSource) Read(ctx context.Context, locator string) ([]byte, error) {
	path, field, _ := strings.Cut(locator, "#")
	mount, secretPath, ok := strings.Cut(path, "/")
	if !ok || mount == "" || secretPath == "" {
		return nil, fmt.Errorf("vault reference should be vault://mount/path[#field]")
	}

	client := v.client
	if v.tokenFile != "" {
		token, err := os.ReadFile(v.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("vault token is not readable: %w", err)
		}
		c, err := v.client.Clone()
		if err != nil {
			return nil, err
		}
		c.SetToken(strings.TrimSpace(string(token)))
		client = c
	}

	secret, err := client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/data/%s", mount, secretPath))
	if err != nil {
		return nil, fmt.Errorf("vault read failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s is not found", path)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("vault secret %s is not a KV v2 secret", path)
	}

	if field == "" {
		return json.Marshal(data)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("vault secret %s has no field %s", path, field)
	}
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(value)
}
