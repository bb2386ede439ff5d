package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Dump renders the effective configuration as YAML with credentials
// masked, for startup debug logging.
func (c *Config) Dump() (string, error) {
	clone := *c

	if clone.Provider.APIKey != "" {
		clone.Provider.APIKey = redacted
	}

	if clone.Provider.WebhookSecret != "" {
		clone.Provider.WebhookSecret = redacted
	}

	if clone.Database.Postgres.Password != "" {
		clone.Database.Postgres.Password = redacted
	}

	if clone.Archive != nil {
		archive := *clone.Archive
		if archive.S3.SecretAccessKey != "" {
			archive.S3.SecretAccessKey = redacted
		}

		clone.Archive = &archive
	}

	if clone.Auth.Admin.PasswordHash != "" {
		clone.Auth.Admin.PasswordHash = redacted
	}

	data, err := yaml.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	return string(data), nil
}
