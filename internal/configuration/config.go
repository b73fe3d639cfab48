package configuration

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Layout    Layout         `yaml:"layout"`
	Upload    UploadConfig   `yaml:"upload"`
	Server    ServerConfig   `yaml:"server"`
	Auth      AuthConfig     `yaml:"auth"`
	CORS      CORSConfig     `yaml:"cors"`
	Log       LogConfig      `yaml:"log"`
	Database  DatabaseConfig `yaml:"database"`
	MinIO     MinIOConfig    `yaml:"minio"`
	Tracing   TracingConfig  `yaml:"tracing"`
	NATSURL   string         `yaml:"nats_url"`
	CLAMAVURL string         `yaml:"clamav_url"`
}

// Layout names the data tree. Subtree names are relative to BaseDir.
type Layout struct {
	BaseDir      string `yaml:"base_dir"`
	PublicDir    string `yaml:"public_dir"`
	ProtectedDir string `yaml:"protected_dir"`
	ArchivesDir  string `yaml:"archives_dir"`
	ArchiveName  string `yaml:"archive_name"`
}

type UploadConfig struct {
	CleanupOnFailure bool  `yaml:"cleanup_on_failure"`
	MaxBytes         int64 `yaml:"max_bytes"`
	BufferBytes      int   `yaml:"buffer_bytes"`
}

type ServerConfig struct {
	InternalPort       string `yaml:"internal_port"`
	PublicPort         string `yaml:"public_port"`
	GinMode            string `yaml:"gin_mode"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type AuthConfig struct {
	KeycloakPublicKey string `yaml:"keycloak_public_key"`
	KeycloakURL       string `yaml:"keycloak_url"`
	Disabled          bool   `yaml:"disabled"`
}

type CORSConfig struct {
	AllowedOrigin        string `yaml:"allowed_origin"`
	AllowedOriginEndWith string `yaml:"allowed_origin_end_with"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type MinIOConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
	UseSSL     bool   `yaml:"use_ssl"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Env         string `yaml:"env"`
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_PATH, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults mirrors the layout the service has always used on disk.
func Defaults() *Config {
	return &Config{
		Layout: Layout{
			BaseDir:      "entando-data",
			PublicDir:    "public",
			ProtectedDir: "protected",
			ArchivesDir:  "archives",
			ArchiveName:  "entando-data.tar.gz",
		},
		Upload: UploadConfig{
			BufferBytes: 32 << 10,
		},
		Server: ServerConfig{
			InternalPort: "8080",
			PublicPort:   "8081",
			GinMode:      "release",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Database: DatabaseConfig{
			Port:    "5432",
			SSLMode: "disable",
		},
		MinIO: MinIOConfig{
			BucketName: "cds-archives",
		},
		Tracing: TracingConfig{
			ServiceName: "cds",
		},
	}
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Layout.BaseDir = getEnv("DATA_DIR", c.Layout.BaseDir)
	c.Layout.PublicDir = getEnv("PUBLIC_DIR", c.Layout.PublicDir)
	c.Layout.ProtectedDir = getEnv("PROTECTED_DIR", c.Layout.ProtectedDir)
	c.Layout.ArchivesDir = getEnv("ARCHIVES_DIR", c.Layout.ArchivesDir)
	c.Layout.ArchiveName = getEnv("ARCHIVE_NAME", c.Layout.ArchiveName)

	c.Upload.CleanupOnFailure = getEnvBool("CLEANUP_ON_FAILURE", c.Upload.CleanupOnFailure)
	c.Upload.MaxBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.Upload.MaxBytes)))
	c.Upload.BufferBytes = getEnvInt("WRITE_BUFFER_BYTES", c.Upload.BufferBytes)

	c.Server.InternalPort = getEnv("INTERNAL_PORT", c.Server.InternalPort)
	c.Server.PublicPort = getEnv("PUBLIC_PORT", c.Server.PublicPort)
	c.Server.GinMode = getEnv("GIN_MODE", c.Server.GinMode)
	c.Server.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.Server.RateLimitPerMinute)

	c.Auth.KeycloakPublicKey = getEnv("KEYCLOAK_PUBLIC_KEY", c.Auth.KeycloakPublicKey)
	c.Auth.KeycloakURL = getEnv("KEYCLOAK_URL", c.Auth.KeycloakURL)
	c.Auth.Disabled = getEnvBool("AUTH_DISABLED", c.Auth.Disabled)

	c.CORS.AllowedOrigin = getEnv("CORS_ALLOWED_ORIGIN", c.CORS.AllowedOrigin)
	c.CORS.AllowedOriginEndWith = getEnv("CORS_ALLOWED_ORIGIN_END_WITH", c.CORS.AllowedOriginEndWith)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Path = getEnv("LOG_PATH", c.Log.Path)
	c.Log.MaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.Log.MaxSizeMB)
	c.Log.MaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.Log.MaxBackups)
	c.Log.MaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", c.Log.MaxAgeDays)
	c.Log.Compress = getEnvBool("LOG_COMPRESS", c.Log.Compress)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)

	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.BucketName = getEnv("MINIO_BUCKET", c.MinIO.BucketName)
	c.MinIO.UseSSL = getEnvBool("MINIO_USE_SSL", c.MinIO.UseSSL)

	c.Tracing.Enabled = getEnvBool("DD_TRACE_ENABLED", c.Tracing.Enabled)
	c.Tracing.ServiceName = getEnv("DD_SERVICE", c.Tracing.ServiceName)
	c.Tracing.Env = getEnv("DD_ENV", c.Tracing.Env)

	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.CLAMAVURL = getEnv("CLAMAV_URL", c.CLAMAVURL)
}

// Validate rejects layouts whose subtrees would not sit directly under the
// base dir, and an internal listener left without any token verification.
func (c *Config) Validate() error {
	if c.Layout.BaseDir == "" {
		return fmt.Errorf("layout: base dir is empty")
	}
	for name, dir := range map[string]string{
		"public":    c.Layout.PublicDir,
		"protected": c.Layout.ProtectedDir,
		"archives":  c.Layout.ArchivesDir,
	} {
		if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, `/\`) {
			return fmt.Errorf("layout: invalid %s dir %q", name, dir)
		}
	}
	if c.Layout.ArchiveName == "" || filepath.Base(c.Layout.ArchiveName) != c.Layout.ArchiveName {
		return fmt.Errorf("layout: invalid archive name %q", c.Layout.ArchiveName)
	}
	if !c.Auth.Disabled && c.Auth.KeycloakPublicKey == "" && c.Auth.KeycloakURL == "" {
		return fmt.Errorf("auth: KEYCLOAK_PUBLIC_KEY or KEYCLOAK_URL must be set (or AUTH_DISABLED=true)")
	}
	return nil
}

// Enabled reports whether a database host was configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
