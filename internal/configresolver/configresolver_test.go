package configresolver

import (
	"testing"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretStore map[string]string

func (f fakeSecretStore) GetSecretDecryptedValue(name string) (string, error) {
	value, ok := f[name]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func TestResolve(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_URL", "https://hooks.example.com/abc")

	cfg := &config.Config{
		Database: &config.DatabaseConfig{
			DSN: config.ValueSource{From: &config.SourceReference{Secret: "db-dsn"}},
		},
		Notifications: []config.NotifierConfig{
			{Type: "webhook", URL: config.ValueSource{From: &config.SourceReference{Env: "TEST_WEBHOOK_URL"}}},
			{Type: "slack", URL: config.ValueSource{Value: "https://hooks.slack.com/xyz"}},
		},
		Deployment: config.DeploymentConfig{
			Services: []config.ServiceConfig{
				{
					Name: "api",
					Kind: "backend",
					Env: []config.EnvVar{
						{Name: "API_KEY", ValueSource: config.ValueSource{From: &config.SourceReference{Secret: "api-key"}}},
					},
				},
			},
		},
	}

	secrets := fakeSecretStore{
		"db-dsn":  "postgres://app:pw@db:5432/app",
		"api-key": "sk-123",
	}

	resolved, err := Resolve(cfg, secrets)
	require.NoError(t, err)

	assert.Equal(t, "postgres://app:pw@db:5432/app", resolved.Database.DSN.Value)
	assert.Nil(t, resolved.Database.DSN.From)
	assert.Equal(t, "https://hooks.example.com/abc", resolved.Notifications[0].URL.Value)
	assert.Equal(t, "https://hooks.slack.com/xyz", resolved.Notifications[1].URL.Value)
	assert.Equal(t, "sk-123", resolved.Deployment.Services[0].Env[0].Value)

	// The original keeps its references: resolution never mutates the input.
	assert.NotNil(t, cfg.Database.DSN.From)
	assert.Empty(t, cfg.Database.DSN.Value)
	assert.NotNil(t, cfg.Deployment.Services[0].Env[0].From)
}

func TestResolveMissingSecret(t *testing.T) {
	cfg := &config.Config{
		Database: &config.DatabaseConfig{
			DSN: config.ValueSource{From: &config.SourceReference{Secret: "missing"}},
		},
	}

	_, err := Resolve(cfg, fakeSecretStore{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret 'missing' not found")
}

func TestResolveNilConfig(t *testing.T) {
	resolved, err := Resolve(nil, fakeSecretStore{})
	require.NoError(t, err)
	assert.Nil(t, resolved)
}
