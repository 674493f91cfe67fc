package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/auth"
	"github.com/PratikDhanave/event-pipeline/internal/model"
)

// Config contains runtime configuration required by the service
// binaries. Every component receives its slice of it at construction;
// nothing reads the environment after Load.
type Config struct {
	DBURL      string `env:"DB_URL,required"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// JWTSecret verifies bearer tokens on the query path. Only the API
	// binary needs it; the worker runs without.
	JWTSecret string `env:"JWT_SECRET"`

	// APIKeys optionally overrides the projects table as the credential
	// store, mainly for local development and integration tests.
	// Format: "key_id:project_uuid:secret,key_id:project_uuid:secret".
	APIKeys string `env:"API_KEYS"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// StaticCredentials parses APIKeys into a credential store, or returns
// nil when APIKeys is unset and keys should resolve from the database.
func (c Config) StaticCredentials() (auth.StaticCredentials, error) {
	raw := strings.TrimSpace(c.APIKeys)
	if raw == "" {
		return nil, nil
	}

	creds := auth.StaticCredentials{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf(`API_KEYS must be "key_id:project_uuid:secret,..."`)
		}
		projectID, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("API_KEYS entry %q: project id must be a UUID", parts[0])
		}
		creds[parts[0]] = model.ProjectCredential{
			ProjectID: projectID,
			Secret:    []byte(parts[2]),
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("API_KEYS is set but contains no entries")
	}
	return creds, nil
}
