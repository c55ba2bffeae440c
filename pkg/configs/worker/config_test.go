package worker_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/elderproject/elder-worker/pkg/configs/worker"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/utils/try"
)

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults are applied when only the database is given", func(t *testing.T) {
		setenv(t, map[string]string{
			"ELDER_DATABASE_URL": "postgres://elder@db/elder",
		})
		conf := try.To(worker.Load("")).OrFatal(t)

		if conf.Database() != "postgres://elder@db/elder" {
			t.Errorf("database = %s", conf.Database())
		}
		if conf.WorkerID() == "" {
			t.Error("worker id is empty")
		}
		if conf.HTTPAddr() != ":8080" {
			t.Errorf("http addr = %s", conf.HTTPAddr())
		}
		if conf.LogLevel() != zapcore.InfoLevel {
			t.Errorf("log level = %s", conf.LogLevel())
		}

		d := conf.Discovery()
		if d.PollInterval() != 300*time.Second || d.MaxConcurrent() != 4 ||
			d.JobTimeout() != time.Hour || d.StaleClaim() != 2*time.Hour || d.BatchSize() != 250 {
			t.Errorf("discovery = %+v", d)
		}

		c := conf.Connectors()
		if c.PollInterval() != 30*time.Second || c.MaxConcurrent() != 2 ||
			c.Timeout() != 15*time.Minute || c.StaleClaim() != 30*time.Minute || c.BackoffCap() != 6*time.Hour {
			t.Errorf("connectors = %+v", c)
		}
		if len(c.Enabled()) != 0 {
			t.Errorf("connectors are enabled by default: %+v", c.Enabled())
		}
		if ldap := c.Get(domain.ConnectorLDAP); ldap.Enabled() || ldap.Interval() != time.Hour {
			t.Errorf("ldap = %+v", ldap)
		}

		s := conf.Secrets()
		if s.Dir() != "/var/run/secrets/elder" || s.Vault() != nil || s.AWSSecretsManager() {
			t.Errorf("secrets = %+v", s)
		}
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "worker.yaml")
		content := `
database: postgres://from-file/elder
logLevel: debug
discovery:
  pollInterval: 1m
  batchSize: 10
connectors:
  each:
    okta:
      enabled: true
      interval: 2h
      credentials: secret://okta
secrets:
  vault:
    addr: https://vault.example.com
    tokenFile: /var/run/vault/token
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		setenv(t, map[string]string{
			"ELDER_DATABASE_URL":                "postgres://from-env/elder",
			"ELDER_DISCOVERY_BATCH_SIZE":        "20",
			"ELDER_CONNECTOR_LDAP_ENABLED":      "true",
			"ELDER_CONNECTOR_LDAP_INTERVAL":     "600",
			"ELDER_CONNECTOR_LDAP_WRITEBACK":    "true",
			"ELDER_CONNECTOR_LDAP_CREDENTIALS":  "vault://secret/ldap",
			"ELDER_CONNECTOR_OKTA_INTERVAL":     "90m",
			"ELDER_MAX_CONCURRENT_CONNECTORS":   "3",
			"ELDER_DISCOVERY_STALE_CLAIM":       "3h",
			"ELDER_AWS_SECRETS_MANAGER":         "1",
			"ELDER_CONNECTOR_WORKSPACE_ENABLED": "",
		})
		conf := try.To(worker.Load(path)).OrFatal(t)

		if conf.Database() != "postgres://from-env/elder" {
			t.Errorf("database = %s", conf.Database())
		}
		if conf.LogLevel() != zapcore.DebugLevel {
			t.Errorf("log level = %s", conf.LogLevel())
		}
		if d := conf.Discovery(); d.PollInterval() != time.Minute || d.BatchSize() != 20 || d.StaleClaim() != 3*time.Hour {
			t.Errorf("discovery = %+v", d)
		}
		if conf.Connectors().MaxConcurrent() != 3 {
			t.Errorf("max concurrent connectors = %d", conf.Connectors().MaxConcurrent())
		}

		enabled := conf.Connectors().Enabled()
		if len(enabled) != 2 {
			t.Fatalf("enabled = %+v", enabled)
		}
		ldap, okta := enabled[0], enabled[1]
		if ldap.Kind() != domain.ConnectorLDAP || ldap.Interval() != 10*time.Minute ||
			!ldap.Writeback() || ldap.Credentials() != "vault://secret/ldap" {
			t.Errorf("ldap = %+v", ldap)
		}
		if okta.Kind() != domain.ConnectorOkta || okta.Interval() != 90*time.Minute ||
			okta.Writeback() || okta.Credentials() != "secret://okta" {
			t.Errorf("okta = %+v", okta)
		}

		s := conf.Secrets()
		if !s.AWSSecretsManager() {
			t.Error("aws secrets manager is not enabled")
		}
		if s.Vault() == nil || s.Vault().Addr() != "https://vault.example.com" || s.Vault().TokenFile() != "/var/run/vault/token" {
			t.Errorf("vault = %+v", s.Vault())
		}
	})

	for name, testcase := range map[string]struct {
		env  map[string]string
		want string
	}{
		"database is missing": {
			env:  map[string]string{},
			want: "(root).database is required",
		},
		"batch size is not positive": {
			env: map[string]string{
				"ELDER_DATABASE_URL":         "postgres://db/elder",
				"ELDER_DISCOVERY_BATCH_SIZE": "-1",
			},
			want: "(root).discovery.batchSize should be positive",
		},
		"log level is unknown": {
			env: map[string]string{
				"ELDER_DATABASE_URL": "postgres://db/elder",
				"ELDER_LOG_LEVEL":    "chatty",
			},
			want: "(root).logLevel",
		},
		"fixture connector without fixtures": {
			env: map[string]string{
				"ELDER_DATABASE_URL":              "postgres://db/elder",
				"ELDER_CONNECTOR_FIXTURE_ENABLED": "true",
			},
			want: "fixtures are not",
		},
		"duration is malformed": {
			env: map[string]string{
				"ELDER_DATABASE_URL":            "postgres://db/elder",
				"ELDER_DISCOVERY_POLL_INTERVAL": "soon",
			},
			want: `"soon" is neither a duration nor seconds`,
		},
	} {
		t.Run("it rejects config when "+name, func(t *testing.T) {
			setenv(t, testcase.env)
			conf, err := worker.Load("")
			if err == nil {
				t.Fatalf("expected error, but got config %+v", conf)
			}
			if !strings.Contains(err.Error(), testcase.want) {
				t.Errorf("error %q does not mention %q", err, testcase.want)
			}
		})
	}
}

func TestLoad_WithFlags(t *testing.T) {
	newFlags := func(args ...string) *pflag.FlagSet {
		fs := pflag.NewFlagSet("elder-worker", pflag.ContinueOnError)
		fs.String("database", "", "")
		fs.String("log-level", "", "")
		fs.Bool("enable-fixtures", false, "")
		if err := fs.Parse(args); err != nil {
			t.Fatal(err)
		}
		return fs
	}
	setenv(t, map[string]string{
		"ELDER_DATABASE_URL": "postgres://from-env/elder",
		"ELDER_LOG_LEVEL":    "warn",
	})

	t.Run("flags set on the command line override the environment", func(t *testing.T) {
		fs := newFlags("--log-level", "error", "--enable-fixtures")
		conf := try.To(worker.Load("", worker.WithFlags(fs))).OrFatal(t)

		if conf.LogLevel() != zapcore.ErrorLevel {
			t.Errorf("log level = %s", conf.LogLevel())
		}
		if !conf.Fixtures() {
			t.Error("fixtures are not enabled")
		}
		if conf.Database() != "postgres://from-env/elder" {
			t.Errorf("database = %s", conf.Database())
		}
	})

	t.Run("flags not set leave the environment as it is", func(t *testing.T) {
		conf := try.To(worker.Load("", worker.WithFlags(newFlags()))).OrFatal(t)

		if conf.LogLevel() != zapcore.WarnLevel {
			t.Errorf("log level = %s", conf.LogLevel())
		}
		if conf.Fixtures() {
			t.Error("fixtures are enabled")
		}
	})
}
