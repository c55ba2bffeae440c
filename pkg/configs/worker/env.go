package worker

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/elderproject/elder-worker/pkg/domain"
)

// EnvPrefix prefixes every environment variable read by the worker.
const EnvPrefix = "ELDER"

// EnvNames maps config keys to environment variables, without EnvPrefix.
//
// Keys for each connector are added by bindEnv.
var EnvNames = map[string]string{
	"database": "DATABASE_URL",
	"workerId": "WORKER_ID",
	"httpAddr": "HTTP_ADDR",
	"logLevel": "LOG_LEVEL",
	"fixtures": "ENABLE_FIXTURES",

	"discovery.pollInterval":  "DISCOVERY_POLL_INTERVAL",
	"discovery.maxConcurrent": "MAX_CONCURRENT_DISCOVERY",
	"discovery.jobTimeout":    "DISCOVERY_JOB_TIMEOUT",
	"discovery.staleClaim":    "DISCOVERY_STALE_CLAIM",
	"discovery.batchSize":     "DISCOVERY_BATCH_SIZE",

	"connectors.pollInterval":  "CONNECTOR_POLL_INTERVAL",
	"connectors.maxConcurrent": "MAX_CONCURRENT_CONNECTORS",
	"connectors.timeout":       "CONNECTOR_TIMEOUT",
	"connectors.staleClaim":    "CONNECTOR_STALE_CLAIM",
	"connectors.backoffCap":    "CONNECTOR_BACKOFF_CAP",

	"secrets.dir":               "SECRETS_DIR",
	"secrets.awsSecretsManager": "AWS_SECRETS_MANAGER",
	"secrets.vault.addr":        "VAULT_ADDR",
	"secrets.vault.tokenFile":   "VAULT_TOKEN_FILE",
	"secrets.vault.namespace":   "VAULT_NAMESPACE",
}

// bindEnv binds every environment variable the worker reads.
//
// Empty variables are treated as unset.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	for key, name := range EnvNames {
		if err := v.BindEnv(key, EnvPrefix+"_"+name); err != nil {
			return err
		}
	}
	for _, kind := range domain.ConnectorKinds() {
		name := kind.String()
		env := EnvPrefix + "_CONNECTOR_" + strings.ToUpper(name) + "_"
		for _, field := range []string{"enabled", "interval", "credentials", "writeback"} {
			key := "connectors.each." + name + "." + field
			if err := v.BindEnv(key, env+strings.ToUpper(field)); err != nil {
				return err
			}
		}
	}
	return nil
}
