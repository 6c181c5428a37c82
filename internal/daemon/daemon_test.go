package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorOptionsMapsBlockingServiceNamesToTiers(t *testing.T) {
	attempts := 5
	timeout := 3
	cfg := &config.Config{
		Deployment: config.DeploymentConfig{
			Services: []config.ServiceConfig{
				{Name: "api", Kind: "backend"},
				{Name: "billing", Kind: "backend"},
				{Name: "db", Kind: "database"},
			},
		},
		Rollback: config.RollbackConfig{
			MaxRetryAttempts:   &attempts,
			StepTimeoutMinutes: &timeout,
			StrictOrdering:     true,
			// api and billing map to the same tier, gone is unknown.
			BlockingServices: []string{"api", "billing", "gone", "db"},
		},
	}

	opts := orchestratorOptions(cfg)

	assert.True(t, opts.StrictOrdering)
	assert.Equal(t, 5, opts.RetryPolicy.MaxAttempts)
	assert.Equal(t, "3m0s", opts.StepTimeout.String())
	assert.Equal(t, []rollback.Service{rollback.ServiceBackend, rollback.ServiceDatabase}, opts.BlockingServices)
}

func TestHasServiceKind(t *testing.T) {
	services := []config.ServiceConfig{
		{Name: "api", Kind: "backend"},
		{Name: "web", Kind: "frontend"},
	}

	assert.True(t, hasServiceKind(services, rollback.ServiceBackend))
	assert.True(t, hasServiceKind(services, rollback.ServiceFrontend))
	assert.False(t, hasServiceKind(services, rollback.ServiceDatabase))
	assert.False(t, hasServiceKind(nil, rollback.ServiceBackend))
}

func TestLogArchiverRequiresConfiguredSource(t *testing.T) {
	archiver := &logArchiver{destDir: t.TempDir()}

	_, err := archiver.PreserveLogs("incident")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preserve_dir")
}

func TestLogArchiverArchivesConfiguredDir(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "app.log"), []byte("boom"), 0o644))

	archiver := &logArchiver{srcDir: src, destDir: dest}

	path, err := archiver.PreserveLogs("incident")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "incident")
}
