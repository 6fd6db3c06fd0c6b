package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EBAY_ENVIRONMENT", "")
	t.Setenv("TOKEN_STORE", "")
	os.Unsetenv("EBAY_ENVIRONMENT")
	os.Unsetenv("TOKEN_STORE")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.True(t, cfg.Ebay.Sandbox())
	assert.Equal(t, "EBAY_DE", cfg.Ebay.MarketplaceID)
	assert.Equal(t, "EUR", cfg.Ebay.Currency)
	assert.Equal(t, "77", cfg.Ebay.CategoryTreeID)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Empty(t, cfg.CORSOrigins)
	assert.False(t, cfg.App.Production())
}

func TestLoad_EnvFileAndAliases(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "EBAY_CLIENT_ID=file-client\nEBAY_REDIRECT_URI=My_App-RuName\nEBAY_ENVIRONMENT=production\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// godotenv never overrides variables that are already set
	t.Setenv("EBAY_CLIENT_ID", "env-client")
	for _, k := range []string{"EBAY_REDIRECT_URI", "EBAY_ENVIRONMENT", "EBAY_RU_NAME"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		os.Unsetenv("EBAY_REDIRECT_URI")
		os.Unsetenv("EBAY_ENVIRONMENT")
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Ebay.ClientID)
	assert.Equal(t, "My_App-RuName", cfg.Ebay.RuName)
	assert.False(t, cfg.Ebay.Sandbox())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown environment", key: "EBAY_ENVIRONMENT", val: "staging"},
		{name: "unknown store", key: "TOKEN_STORE", val: "etcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.val)
		})
	}
}
