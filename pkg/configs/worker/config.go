package worker

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// Config of the worker process.
//
// To get a Config, seal a ConfigMarshall with TrySeal.
type Config struct {
	database string
	workerID string
	httpAddr string
	logLevel zapcore.Level
	fixtures bool

	discovery  *DiscoveryConfig
	connectors *ConnectorsConfig
	secrets    *SecretsConfig
}

// Postgres URL.
func (c *Config) Database() string {
	return c.database
}

// WorkerID is written as the owner of claims made by this process.
func (c *Config) WorkerID() string {
	return c.workerID
}

func (c *Config) HTTPAddr() string {
	return c.httpAddr
}

func (c *Config) LogLevel() zapcore.Level {
	return c.logLevel
}

// Fixtures tells whether the fixture provider and connector are registered.
func (c *Config) Fixtures() bool {
	return c.fixtures
}

func (c *Config) Discovery() *DiscoveryConfig {
	return c.discovery
}

func (c *Config) Connectors() *ConnectorsConfig {
	return c.connectors
}

func (c *Config) Secrets() *SecretsConfig {
	return c.secrets
}

type DiscoveryConfig struct {
	pollInterval  time.Duration
	maxConcurrent int
	jobTimeout    time.Duration
	staleClaim    time.Duration
	batchSize     int
}

func (d *DiscoveryConfig) PollInterval() time.Duration {
	return d.pollInterval
}

func (d *DiscoveryConfig) MaxConcurrent() int {
	return d.maxConcurrent
}

func (d *DiscoveryConfig) JobTimeout() time.Duration {
	return d.jobTimeout
}

// StaleClaim is how long a running claim is honored before other workers may take it over.
func (d *DiscoveryConfig) StaleClaim() time.Duration {
	return d.staleClaim
}

func (d *DiscoveryConfig) BatchSize() int {
	return d.batchSize
}

type ConnectorsConfig struct {
	pollInterval  time.Duration
	maxConcurrent int
	timeout       time.Duration
	staleClaim    time.Duration
	backoffCap    time.Duration
	each          map[domain.ConnectorKind]*ConnectorConfig
}

func (c *ConnectorsConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *ConnectorsConfig) MaxConcurrent() int {
	return c.maxConcurrent
}

func (c *ConnectorsConfig) Timeout() time.Duration {
	return c.timeout
}

func (c *ConnectorsConfig) StaleClaim() time.Duration {
	return c.staleClaim
}

// BackoffCap bounds the delay after consecutive failures.
func (c *ConnectorsConfig) BackoffCap() time.Duration {
	return c.backoffCap
}

// Get returns the config of a connector. Connectors not configured are returned as disabled.
func (c *ConnectorsConfig) Get(kind domain.ConnectorKind) *ConnectorConfig {
	if cc, ok := c.each[kind]; ok {
		return cc
	}
	return &ConnectorConfig{kind: kind, interval: defaultConnectorInterval}
}

// Enabled lists enabled connectors, in the order of domain.ConnectorKinds.
func (c *ConnectorsConfig) Enabled() []*ConnectorConfig {
	enabled := []*ConnectorConfig{}
	for _, k := range domain.ConnectorKinds() {
		if cc := c.Get(k); cc.Enabled() {
			enabled = append(enabled, cc)
		}
	}
	return enabled
}

type ConnectorConfig struct {
	kind        domain.ConnectorKind
	enabled     bool
	interval    time.Duration
	credentials string
	writeback   bool
}

func (c *ConnectorConfig) Kind() domain.ConnectorKind {
	return c.kind
}

func (c *ConnectorConfig) Enabled() bool {
	return c.enabled
}

func (c *ConnectorConfig) Interval() time.Duration {
	return c.interval
}

// Credentials is a credential reference. It is not a secret by itself.
func (c *ConnectorConfig) Credentials() string {
	return c.credentials
}

// Writeback tells whether local membership changes are pushed upstream.
func (c *ConnectorConfig) Writeback() bool {
	return c.writeback
}

type SecretsConfig struct {
	dir               string
	vault             *VaultConfig
	awsSecretsManager bool
}

// Dir is the root of mounted secrets, for secret:// references.
func (s *SecretsConfig) Dir() string {
	return s.dir
}

// Vault is nil unless Vault is configured.
func (s *SecretsConfig) Vault() *VaultConfig {
	return s.vault
}

func (s *SecretsConfig) AWSSecretsManager() bool {
	return s.awsSecretsManager
}

type VaultConfig struct {
	addr      string
	tokenFile string
	namespace string
}

func (v *VaultConfig) Addr() string {
	return v.addr
}

// TokenFile holds a Vault token. It is read each time a token is needed.
func (v *VaultConfig) TokenFile() string {
	return v.tokenFile
}

func (v *VaultConfig) Namespace() string {
	return v.namespace
}
