package worker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/elderproject/elder-worker/pkg/domain"
)

const (
	defaultDiscoveryPollInterval  = 300 * time.Second
	defaultMaxConcurrentDiscovery = 4
	defaultDiscoveryJobTimeout    = time.Hour
	defaultDiscoveryStaleClaim    = 2 * time.Hour
	defaultDiscoveryBatchSize     = 250

	defaultConnectorPollInterval  = 30 * time.Second
	defaultMaxConcurrentConnector = 2
	defaultConnectorTimeout       = 15 * time.Minute
	defaultConnectorStaleClaim    = 30 * time.Minute
	defaultConnectorBackoffCap    = 6 * time.Hour
	defaultConnectorInterval      = time.Hour

	defaultSecretsDir = "/var/run/secrets/elder"
	defaultHTTPAddr   = ":8080"
)

// ConfigMarshall is the mutable form of Config, as written in a config file.
//
// Zero values stand for defaults. Seal it with TrySeal to get a Config.
type ConfigMarshall struct {
	Database   string                    `yaml:"database"`
	WorkerID   string                    `yaml:"workerId,omitempty"`
	HTTPAddr   string                    `yaml:"httpAddr,omitempty"`
	LogLevel   string                    `yaml:"logLevel,omitempty"`
	Fixtures   bool                      `yaml:"fixtures,omitempty"`
	Discovery  *DiscoveryConfigMarshall  `yaml:"discovery,omitempty"`
	Connectors *ConnectorsConfigMarshall `yaml:"connectors,omitempty"`
	Secrets    *SecretsConfigMarshall    `yaml:"secrets,omitempty"`
}

type DiscoveryConfigMarshall struct {
	PollInterval  time.Duration `yaml:"pollInterval,omitempty"`
	MaxConcurrent int           `yaml:"maxConcurrent,omitempty"`
	JobTimeout    time.Duration `yaml:"jobTimeout,omitempty"`
	StaleClaim    time.Duration `yaml:"staleClaim,omitempty"`
	BatchSize     int           `yaml:"batchSize,omitempty"`
}

type ConnectorsConfigMarshall struct {
	PollInterval  time.Duration                       `yaml:"pollInterval,omitempty"`
	MaxConcurrent int                                 `yaml:"maxConcurrent,omitempty"`
	Timeout       time.Duration                       `yaml:"timeout,omitempty"`
	StaleClaim    time.Duration                       `yaml:"staleClaim,omitempty"`
	BackoffCap    time.Duration                       `yaml:"backoffCap,omitempty"`
	Each          map[string]*ConnectorConfigMarshall `yaml:"each,omitempty"`
}

type ConnectorConfigMarshall struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	Credentials string        `yaml:"credentials,omitempty"`
	Writeback   bool          `yaml:"writeback,omitempty"`
}

type SecretsConfigMarshall struct {
	Dir               string               `yaml:"dir,omitempty"`
	Vault             *VaultConfigMarshall `yaml:"vault,omitempty"`
	AWSSecretsManager bool                 `yaml:"awsSecretsManager,omitempty"`
}

type VaultConfigMarshall struct {
	Addr      string `yaml:"addr"`
	TokenFile string `yaml:"tokenFile,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// TrySeal verifies the configuration and creates the readonly Config.
//
// IT WILL PANIC if any misconfiguration is found. Use Seal to get an error instead.
func (m *ConfigMarshall) TrySeal() *Config {
	return m.trySeal("(root)")
}

// Seal is TrySeal which returns misconfiguration as an error.
func (m *ConfigMarshall) Seal() (c *Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("invalid config: %v", r)
		}
	}()
	return m.TrySeal(), nil
}

func (m *ConfigMarshall) trySeal(path string) *Config {
	level := zapcore.InfoLevel
	if m.LogLevel != "" {
		l, err := zapcore.ParseLevel(m.LogLevel)
		if err != nil {
			panic(fmt.Sprintf("%s.logLevel: %s", path, err))
		}
		level = l
	}

	workerID := m.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	return &Config{
		database:   required(m.Database, path+".database"),
		workerID:   workerID,
		httpAddr:   orDefault(m.HTTPAddr, defaultHTTPAddr),
		logLevel:   level,
		fixtures:   m.Fixtures,
		discovery:  orNew(m.Discovery).trySeal(path + ".discovery"),
		connectors: orNew(m.Connectors).trySeal(path+".connectors", m.Fixtures),
		secrets:    orNew(m.Secrets).trySeal(path + ".secrets"),
	}
}

func (d *DiscoveryConfigMarshall) trySeal(path string) *DiscoveryConfig {
	return &DiscoveryConfig{
		pollInterval:  positive(orDefault(d.PollInterval, defaultDiscoveryPollInterval), path+".pollInterval"),
		maxConcurrent: positive(orDefault(d.MaxConcurrent, defaultMaxConcurrentDiscovery), path+".maxConcurrent"),
		jobTimeout:    positive(orDefault(d.JobTimeout, defaultDiscoveryJobTimeout), path+".jobTimeout"),
		staleClaim:    positive(orDefault(d.StaleClaim, defaultDiscoveryStaleClaim), path+".staleClaim"),
		batchSize:     positive(orDefault(d.BatchSize, defaultDiscoveryBatchSize), path+".batchSize"),
	}
}

func (c *ConnectorsConfigMarshall) trySeal(path string, fixtures bool) *ConnectorsConfig {
	each := map[domain.ConnectorKind]*ConnectorConfig{}
	for name, cm := range c.Each {
		p := path + ".each." + name
		kind, err := domain.AsConnectorKind(name)
		if err != nil {
			panic(fmt.Sprintf("%s: %s", p, err))
		}
		if cm == nil {
			continue
		}
		if kind == domain.ConnectorFixture && cm.Enabled && !fixtures {
			panic(p + " is enabled, but fixtures are not")
		}
		each[kind] = &ConnectorConfig{
			kind:        kind,
			enabled:     cm.Enabled,
			interval:    positive(orDefault(cm.Interval, defaultConnectorInterval), p+".interval"),
			credentials: cm.Credentials,
			writeback:   cm.Writeback,
		}
	}

	return &ConnectorsConfig{
		pollInterval:  positive(orDefault(c.PollInterval, defaultConnectorPollInterval), path+".pollInterval"),
		maxConcurrent: positive(orDefault(c.MaxConcurrent, defaultMaxConcurrentConnector), path+".maxConcurrent"),
		timeout:       positive(orDefault(c.Timeout, defaultConnectorTimeout), path+".timeout"),
		staleClaim:    positive(orDefault(c.StaleClaim, defaultConnectorStaleClaim), path+".staleClaim"),
		backoffCap:    positive(orDefault(c.BackoffCap, defaultConnectorBackoffCap), path+".backoffCap"),
		each:          each,
	}
}

func (s *SecretsConfigMarshall) trySeal(path string) *SecretsConfig {
	var vault *VaultConfig
	if s.Vault != nil && s.Vault.Addr != "" {
		vault = &VaultConfig{
			addr:      s.Vault.Addr,
			tokenFile: s.Vault.TokenFile,
			namespace: s.Vault.Namespace,
		}
	}
	return &SecretsConfig{
		dir:               orDefault(s.Dir, defaultSecretsDir),
		vault:             vault,
		awsSecretsManager: s.AWSSecretsManager,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "elder-worker"
	}
	return fmt.Sprintf("%s-%s", host, strings.SplitN(uuid.NewString(), "-", 2)[0])
}

func orNew[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func orDefault[T comparable](v T, d T) T {
	if v == *new(T) {
		return d
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func positive[T int | time.Duration](v T, path string) T {
	if v <= 0 {
		panic(path + " should be positive")
	}
	return v
}
