package credential

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Kind is the kind of credential material a plugin takes.
type Kind string

const (
	KindAWS        Kind = "aws"
	KindGCP        Kind = "gcp"
	KindAzure      Kind = "azure"
	KindKubernetes Kind = "kubernetes"
	KindLDAP       Kind = "ldap"
	KindOkta       Kind = "okta"
	KindEntra      Kind = "entra"
	KindWorkspace  Kind = "workspace"

	// KindOpaque takes anything. The fixture plugins use it.
	KindOpaque Kind = "opaque"
)

// Credential is resolved credential material.
//
// Its zap rendering shows only non-secret fields.
type Credential interface {
	zapcore.ObjectMarshaler
	Kind() Kind
	validate() error
}

type AWS struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey Secret `mapstructure:"secret_access_key"`
	SessionToken    Secret `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`

	// RoleARN, when set, is assumed with the keys above (or the ambient credentials).
	RoleARN    string `mapstructure:"role_arn"`
	ExternalID string `mapstructure:"external_id"`
}

func (*AWS) Kind() Kind { return KindAWS }

func (a *AWS) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"access_key_id": mask(a.AccessKeyID), "region": a.Region, "role_arn": a.RoleARN}.MarshalLogObject(enc)
}

// Ambient tells that no keys are given, and the SDK's default chain is used.
func (a *AWS) Ambient() bool {
	return a.AccessKeyID == "" && a.SecretAccessKey.IsZero()
}

func (a *AWS) validate() error {
	if (a.AccessKeyID == "") != a.SecretAccessKey.IsZero() {
		return errors.New("access_key_id and secret_access_key should be given together")
	}
	if a.Ambient() && a.RoleARN == "" {
		return errors.New("neither keys nor role_arn are given")
	}
	return nil
}

// GCP is a service account key.
type GCP struct {
	Type         string `mapstructure:"type"`
	ProjectID    string `mapstructure:"project_id"`
	ClientEmail  string `mapstructure:"client_email"`
	PrivateKeyID string `mapstructure:"private_key_id"`
	PrivateKey   Secret `mapstructure:"private_key"`

	// JSON is the whole key file, as google client libraries take it.
	JSON Secret `mapstructure:"-"`
}

func (*GCP) Kind() Kind { return KindGCP }

func (g *GCP) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"client_email": g.ClientEmail, "project_id": g.ProjectID}.MarshalLogObject(enc)
}

func (g *GCP) validate() error {
	if g.Type != "service_account" {
		return fmt.Errorf(`type should be "service_account", but "%s"`, g.Type)
	}
	if g.ClientEmail == "" {
		return errors.New("client_email is missing")
	}
	if g.PrivateKey.IsZero() {
		return errors.New("private_key is missing")
	}
	return nil
}

// Azure is a service principal with a client secret.
type Azure struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret Secret `mapstructure:"client_secret"`
}

func (*Azure) Kind() Kind { return KindAzure }

func (a *Azure) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"tenant_id": a.TenantID, "client_id": a.ClientID}.MarshalLogObject(enc)
}

func (a *Azure) validate() error {
	return requireAll(map[string]bool{
		"tenant_id":     a.TenantID != "",
		"client_id":     a.ClientID != "",
		"client_secret": !a.ClientSecret.IsZero(),
	})
}

type Kubernetes struct {
	Kubeconfig Secret `mapstructure:"kubeconfig"`

	// Context in the kubeconfig. Empty for the current context.
	Context string `mapstructure:"context"`
}

func (*Kubernetes) Kind() Kind { return KindKubernetes }

func (k *Kubernetes) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"context": k.Context}.MarshalLogObject(enc)
}

func (k *Kubernetes) validate() error {
	if k.Kubeconfig.IsZero() {
		return errors.New("kubeconfig is missing")
	}
	return nil
}

type LDAP struct {
	URL          string `mapstructure:"url"`
	BindDN       string `mapstructure:"bind_dn"`
	BindPassword Secret `mapstructure:"bind_password"`
	BaseDN       string `mapstructure:"base_dn"`
	UserFilter   string `mapstructure:"user_filter"`
	GroupFilter  string `mapstructure:"group_filter"`
	StartTLS     bool   `mapstructure:"start_tls"`
}

func (*LDAP) Kind() Kind { return KindLDAP }

func (l *LDAP) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"url": l.URL, "bind_dn": l.BindDN, "base_dn": l.BaseDN}.MarshalLogObject(enc)
}

func (l *LDAP) validate() error {
	return requireAll(map[string]bool{
		"url":           l.URL != "",
		"bind_dn":       l.BindDN != "",
		"bind_password": !l.BindPassword.IsZero(),
		"base_dn":       l.BaseDN != "",
	})
}

type Okta struct {
	OrgURL string `mapstructure:"org_url"`
	Token  Secret `mapstructure:"token"`
}

func (*Okta) Kind() Kind { return KindOkta }

func (o *Okta) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"org_url": o.OrgURL}.MarshalLogObject(enc)
}

func (o *Okta) validate() error {
	return requireAll(map[string]bool{
		"org_url": o.OrgURL != "",
		"token":   !o.Token.IsZero(),
	})
}

// Entra is an app registration for Microsoft Graph.
type Entra struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret Secret `mapstructure:"client_secret"`
}

func (*Entra) Kind() Kind { return KindEntra }

func (e *Entra) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{"tenant_id": e.TenantID, "client_id": e.ClientID}.MarshalLogObject(enc)
}

func (e *Entra) validate() error {
	return requireAll(map[string]bool{
		"tenant_id":     e.TenantID != "",
		"client_id":     e.ClientID != "",
		"client_secret": !e.ClientSecret.IsZero(),
	})
}

// Workspace is a service account with domain-wide delegation, acting as an admin.
type Workspace struct {
	ServiceAccount GCP    `mapstructure:"service_account"`
	AdminEmail     string `mapstructure:"admin_email"`
	Customer       string `mapstructure:"customer"`
	Domain         string `mapstructure:"domain"`
}

func (*Workspace) Kind() Kind { return KindWorkspace }

func (w *Workspace) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return fields{
		"client_email": w.ServiceAccount.ClientEmail,
		"admin_email":  w.AdminEmail,
		"customer":     w.Customer,
	}.MarshalLogObject(enc)
}

func (w *Workspace) validate() error {
	if w.AdminEmail == "" {
		return errors.New("admin_email is missing")
	}
	if err := w.ServiceAccount.validate(); err != nil {
		return fmt.Errorf("service_account: %w", err)
	}
	return nil
}

// Opaque holds decoded material as it is.
type Opaque struct {
	Values map[string]Secret
}

func (*Opaque) Kind() Kind { return KindOpaque }

func (o *Opaque) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(o.Values))
	for k := range o.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	enc.AddString("keys", strings.Join(keys, ","))
	return nil
}

func (o *Opaque) validate() error { return nil }

func requireAll(present map[string]bool) error {
	missing := []string{}
	for name, ok := range present {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing: %s", strings.Join(missing, ", "))
}

// mask shows the head of an identifier which is not secret by itself, but is sensitive.
func mask(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:4] + "..."
}
