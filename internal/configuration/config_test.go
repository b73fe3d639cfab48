package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()

	assert.Equal(t, "entando-data", c.Layout.BaseDir)
	assert.Equal(t, "public", c.Layout.PublicDir)
	assert.Equal(t, "protected", c.Layout.ProtectedDir)
	assert.Equal(t, "archives", c.Layout.ArchivesDir)
	assert.Equal(t, "entando-data.tar.gz", c.Layout.ArchiveName)
	assert.Equal(t, "8080", c.Server.InternalPort)
	assert.Equal(t, "8081", c.Server.PublicPort)
	assert.False(t, c.Upload.CleanupOnFailure)
	assert.Equal(t, 32<<10, c.Upload.BufferBytes)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATA_DIR", "/srv/cds")
	t.Setenv("INTERNAL_PORT", "9090")
	t.Setenv("CLEANUP_ON_FAILURE", "true")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("AUTH_DISABLED", "true")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/cds", c.Layout.BaseDir)
	assert.Equal(t, "9090", c.Server.InternalPort)
	assert.True(t, c.Upload.CleanupOnFailure)
	assert.Equal(t, int64(1048576), c.Upload.MaxBytes)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
layout:
  base_dir: /data
  archive_name: site.tar.gz
server:
  public_port: "7000"
auth:
  keycloak_url: http://keycloak/realms/cds
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PUBLIC_PORT", "7001")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data", c.Layout.BaseDir)
	assert.Equal(t, "public", c.Layout.PublicDir, "unset yaml keys keep defaults")
	assert.Equal(t, "site.tar.gz", c.Layout.ArchiveName)
	assert.Equal(t, "7001", c.Server.PublicPort, "env wins over file")
	assert.Equal(t, "http://keycloak/realms/cds", c.Auth.KeycloakURL)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"auth disabled", func(c *Config) { c.Auth.Disabled = true }, false},
		{"public key", func(c *Config) { c.Auth.KeycloakPublicKey = "pem" }, false},
		{"no verifier", func(c *Config) {}, true},
		{"nested public dir", func(c *Config) { c.Auth.Disabled = true; c.Layout.PublicDir = "a/b" }, true},
		{"dotdot archives", func(c *Config) { c.Auth.Disabled = true; c.Layout.ArchivesDir = ".." }, true},
		{"archive name with dir", func(c *Config) { c.Auth.Disabled = true; c.Layout.ArchiveName = "x/y.tar.gz" }, true},
		{"empty base", func(c *Config) { c.Auth.Disabled = true; c.Layout.BaseDir = "" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Defaults()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "cds", SSLMode: "disable"}

	assert.True(t, db.Enabled())
	assert.Equal(t, "postgres://u:p@db:5432/cds?sslmode=disable", db.ConnectionString())
	assert.False(t, (&DatabaseConfig{}).Enabled())
}
