package config

import (
	"encoding/json"
	"os"

	"github.com/dkovalev/vaultcore/internal/flagx"
	"github.com/dkovalev/vaultcore/internal/timex"
)

// JsonConfig is the intermediate DTO used only for reading JSON
// configuration files. Duration fields accept both strings ("5m") and
// integer nanoseconds. After unmarshalling, values are copied into the
// runtime Config.
type JsonConfig struct {
	DatabaseDSN        string         `json:"database_dsn"`
	HandshakeExpiry    timex.Duration `json:"handshake_expiry"`
	SessionExpiry      timex.Duration `json:"session_expiry"`
	SessionMaxRequests int64          `json:"session_max_requests"`
	CleanupInterval    timex.Duration `json:"cleanup_interval"`
	S3RootUser         string         `json:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags, when present. A missing flag means no JSON overlay; an
// unreadable or invalid file panics, since running with half-applied
// configuration is worse than not starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.HandshakeExpiry = c.HandshakeExpiry.Duration
	config.SessionExpiry = c.SessionExpiry.Duration
	config.SessionMaxRequests = c.SessionMaxRequests
	config.CleanupInterval = c.CleanupInterval.Duration
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
