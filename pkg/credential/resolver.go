// Package credential turns credential references of jobs and connectors into
// typed credential material.
//
// A reference is one of:
//
//   - an inline object: `{"access_key_id": ...}` (JSON or YAML flow style)
//   - an opaque blob, which is taken as `{"token": <blob>}`
//   - `secret://name`: a file under the mounted secrets directory
//   - `file:///abs/path` or `/abs/path`: a file
//   - `vault://mount/path[#field]`: HashiCorp Vault KV v2
//   - `aws-sm://secret-id`: AWS Secrets Manager
//
// Nothing is cached. Each Resolve reads its source again, so that rotated
// secrets are picked up by the next run.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Reference schemes.
const (
	SchemeSecret = "secret://"
	SchemeFile   = "file://"
	SchemeVault  = "vault://"
	SchemeAWSSM  = "aws-sm://"
)

// Source reads credential material of a locator (a reference without its scheme).
type Source interface {
	Read(ctx context.Context, locator string) ([]byte, error)
}

// Interface resolves credential references.
type Interface interface {
	Resolve(ctx context.Context, ref string, kind Kind) (Credential, error)
}

type Resolver struct {
	secretsDir string
	vault      Source
	awssm      Source
}

type Option func(*Resolver) *Resolver

// WithSecretsDir sets the root of secret:// references.
func WithSecretsDir(dir string) Option {
	return func(r *Resolver) *Resolver {
		r.secretsDir = dir
		return r
	}
}

// WithVault enables vault:// references.
func WithVault(src Source) Option {
	return func(r *Resolver) *Resolver {
		r.vault = src
		return r
	}
}

// WithAWSSecretsManager enables aws-sm:// references.
func WithAWSSecretsManager(src Source) Option {
	return func(r *Resolver) *Resolver {
		r.awssm = src
		return r
	}
}

var _ Interface = &Resolver{}

func NewResolver(options ...Option) *Resolver {
	r := &Resolver{secretsDir: "/var/run/secrets/elder"}
	for _, o := range options {
		r = o(r)
	}
	return r
}

// Resolve reads the reference and decodes it as kind.
//
// Errors are *domain.CredentialError. They name the kind of the reference, never its content.
func (r *Resolver) Resolve(ctx context.Context, ref string, kind Kind) (Credential, error) {
	source := describe(ref)

	raw, err := r.read(ctx, ref)
	if err != nil {
		return nil, &domain.CredentialError{Source: source, Reason: "not readable", Err: err}
	}

	cred, err := decode(raw, kind)
	if err != nil {
		return nil, &domain.CredentialError{Source: source, Reason: fmt.Sprintf("not a valid %s credential", kind), Err: err}
	}
	return cred, nil
}

func (r *Resolver) read(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.TrimSpace(ref) == "":
		return nil, fmt.Errorf("reference is empty")
	case strings.HasPrefix(ref, SchemeSecret):
		name := strings.TrimPrefix(ref, SchemeSecret)
		if name == "" || !filepath.IsLocal(name) {
			return nil, fmt.Errorf("secret name should be a relative path in the secrets directory")
		}
		return readFile(filepath.Join(r.secretsDir, name))
	case strings.HasPrefix(ref, SchemeFile):
		return readFile(strings.TrimPrefix(ref, SchemeFile))
	case strings.HasPrefix(ref, "/"):
		return readFile(ref)
	case strings.HasPrefix(ref, SchemeVault):
		if r.vault == nil {
			return nil, fmt.Errorf("vault is not configured")
		}
		return r.vault.Read(ctx, strings.TrimPrefix(ref, SchemeVault))
	case strings.HasPrefix(ref, SchemeAWSSM):
		if r.awssm == nil {
			return nil, fmt.Errorf("aws secrets manager is not enabled")
		}
		return r.awssm.Read(ctx, strings.TrimPrefix(ref, SchemeAWSSM))
	default:
		return []byte(ref), nil
	}
}

func readFile(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("file path should be absolute")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		// the error of os carries the path only. It is safe to show.
		return nil, err
	}
	return content, nil
}

// describe names the source of a reference without revealing inline material.
func describe(ref string) string {
	for _, scheme := range []string{SchemeSecret, SchemeFile, SchemeVault, SchemeAWSSM} {
		if strings.HasPrefix(ref, scheme) {
			return ref
		}
	}
	if strings.HasPrefix(ref, "/") {
		return ref
	}
	if strings.HasPrefix(strings.TrimSpace(ref), "{") {
		return "inline object"
	}
	return "inline value"
}

// parse reads raw material as a mapping. Things which are not a mapping are {"token": raw}.
func parse(raw []byte) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	m := map[string]any{}
	if err := yaml.Unmarshal(trimmed, &m); err == nil && len(m) != 0 {
		return m
	}
	return map[string]any{"token": string(trimmed)}
}

func decode(raw []byte, kind Kind) (Credential, error) {
	values := parse(raw)

	var cred Credential
	switch kind {
	case KindAWS:
		cred = &AWS{}
	case KindGCP:
		// google client libraries take the key file as JSON, while it may be written in YAML.
		j, err := json.Marshal(values)
		if err != nil {
			return nil, fmt.Errorf("key is malformed")
		}
		cred = &GCP{JSON: Secret(j)}
	case KindAzure:
		cred = &Azure{}
	case KindKubernetes:
		if _, ok := values["kubeconfig"]; !ok {
			// a kubeconfig file itself.
			values = map[string]any{"kubeconfig": string(raw)}
		}
		cred = &Kubernetes{}
	case KindLDAP:
		cred = &LDAP{}
	case KindOkta:
		cred = &Okta{}
	case KindEntra:
		cred = &Entra{}
	case KindWorkspace:
		w := &Workspace{}
		if err := decodeWorkspaceKey(values, w); err != nil {
			return nil, err
		}
		cred = w
	case KindOpaque:
		o := &Opaque{Values: map[string]Secret{}}
		for k, v := range values {
			o.Values[k] = Secret(fmt.Sprint(v))
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown credential kind: %s", kind)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cred,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(values); err != nil {
		// decoding errors quote values. Do not pass them through.
		return nil, fmt.Errorf("fields are malformed")
	}
	if err := cred.validate(); err != nil {
		return nil, err
	}
	return cred, nil
}

// decodeWorkspaceKey accepts service_account either as an object or as the text of a key file.
func decodeWorkspaceKey(values map[string]any, w *Workspace) error {
	if sa, ok := values["service_account"].(string); ok {
		key := map[string]any{}
		if err := yaml.Unmarshal([]byte(sa), &key); err != nil {
			return fmt.Errorf("service_account is not a key file")
		}
		values["service_account"] = key
	}
	sa, ok := values["service_account"].(map[string]any)
	if !ok {
		return fmt.Errorf("service_account is missing")
	}
	j, err := json.Marshal(sa)
	if err != nil {
		return fmt.Errorf("service_account is malformed")
	}
	w.ServiceAccount.JSON = Secret(j)
	return nil
}
