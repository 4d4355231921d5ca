package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Auth          AuthConfig          `yaml:"auth"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ActorHeader carries the authenticated internal actor id, set by the
	// upstream identity proxy
	ActorHeader string `yaml:"actor_header"`
	// AccountHeader carries the authenticated external portal account id
	AccountHeader string `yaml:"account_header"`

	// PublicRequestsPerMinute limits token lookups per client IP on the
	// public routes; 0 disables the limit
	PublicRequestsPerMinute int `yaml:"public_requests_per_minute"`
	// PINAttemptsPerMinute limits PIN submissions per client IP
	PINAttemptsPerMinute int `yaml:"pin_attempts_per_minute"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Type            string        `yaml:"type"`
	PostgresURL     string        `yaml:"postgres_url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the shared catalog cache. An empty URL keeps the
// cache in process.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// DocumentsConfig selects where file links read project documents from.
// An empty backend disables file link serving.
type DocumentsConfig struct {
	Backend string `yaml:"backend"`
	RootDir string `yaml:"root_dir"`

	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// AuthConfig holds authorization and token settings
type AuthConfig struct {
	SuperadminIDs    []string `yaml:"superadmin_ids"`
	SuperadminEmails []string `yaml:"superadmin_emails"`

	PolicyVersion    string        `yaml:"policy_version"`
	CatalogTTL       time.Duration `yaml:"catalog_ttl"`
	CatalogCacheSize int           `yaml:"catalog_cache_size"`
	CatalogFile      string        `yaml:"catalog_file"`

	SignedTokenSecret          string        `yaml:"signed_token_secret"`
	SignedTokenPreviousSecrets []string      `yaml:"signed_token_previous_secrets"`
	FileLinkTTL                time.Duration `yaml:"file_link_ttl"`
	MaxFileLinkTTL             time.Duration `yaml:"max_file_link_ttl"`

	PINSessionSecret  string        `yaml:"pin_session_secret"`
	PINSessionTTL     time.Duration `yaml:"pin_session_ttl"`
	PortalTokenPrefix string        `yaml:"portal_token_prefix"`
}

// AuditConfig holds audit persistence settings
type AuditConfig struct {
	Async             bool          `yaml:"async"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	Retention         time.Duration `yaml:"retention"`
	RetentionSchedule string        `yaml:"retention_schedule"`
	LogDecisions      bool          `yaml:"log_decisions"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ActorHeader:     "X-Actor-ID",
			AccountHeader:   "X-Portal-Account-ID",

			PublicRequestsPerMinute: 120,
			PINAttemptsPerMinute:    10,
		},
		Storage: StorageConfig{
			Type:            "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Documents: DocumentsConfig{
			S3Region: "us-east-1",
		},
		Auth: AuthConfig{
			PolicyVersion:     "v1",
			CatalogTTL:        60 * time.Second,
			CatalogCacheSize:  4096,
			FileLinkTTL:       5 * time.Minute,
			MaxFileLinkTTL:    time.Hour,
			PINSessionTTL:     15 * time.Minute,
			PortalTokenPrefix: "gpt_",
		},
		Audit: AuditConfig{
			Async:             true,
			WriteTimeout:      5 * time.Second,
			Retention:         90 * 24 * time.Hour,
			RetentionSchedule: "@daily",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads the YAML file named by GATEHOUSE_CONFIG_FILE, if any,
// applies environment overrides and validates the result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEHOUSE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("GATEHOUSE_HOST", s.Host)
	s.Port = getEnv("GATEHOUSE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.ActorHeader = getEnv("GATEHOUSE_ACTOR_HEADER", s.ActorHeader)
	s.AccountHeader = getEnv("GATEHOUSE_ACCOUNT_HEADER", s.AccountHeader)
	s.PublicRequestsPerMinute = getEnvInt("GATEHOUSE_PUBLIC_REQUESTS_PER_MINUTE", s.PublicRequestsPerMinute)
	s.PINAttemptsPerMinute = getEnvInt("GATEHOUSE_PIN_ATTEMPTS_PER_MINUTE", s.PINAttemptsPerMinute)

	st := &c.Storage
	st.Type = getEnv("GATEHOUSE_STORAGE_TYPE", st.Type)
	st.PostgresURL = getEnv("GATEHOUSE_POSTGRES_URL", st.PostgresURL)
	st.MaxOpenConns = getEnvInt("GATEHOUSE_POSTGRES_MAX_OPEN_CONNS", st.MaxOpenConns)
	st.MaxIdleConns = getEnvInt("GATEHOUSE_POSTGRES_MAX_IDLE_CONNS", st.MaxIdleConns)
	st.ConnMaxLifetime = getEnvDuration("GATEHOUSE_POSTGRES_CONN_MAX_LIFETIME", st.ConnMaxLifetime)

	c.Redis.URL = getEnv("GATEHOUSE_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("GATEHOUSE_REDIS_PASSWORD", c.Redis.Password)

	d := &c.Documents
	d.Backend = getEnv("GATEHOUSE_DOCUMENTS_BACKEND", d.Backend)
	d.RootDir = getEnv("GATEHOUSE_DOCUMENTS_DIR", d.RootDir)
	d.S3Bucket = getEnv("GATEHOUSE_S3_BUCKET", d.S3Bucket)
	d.S3Region = getEnv("GATEHOUSE_S3_REGION", d.S3Region)
	d.S3Endpoint = getEnv("GATEHOUSE_S3_ENDPOINT", d.S3Endpoint)
	d.S3AccessKey = getEnv("GATEHOUSE_S3_ACCESS_KEY", d.S3AccessKey)
	d.S3SecretKey = getEnv("GATEHOUSE_S3_SECRET_KEY", d.S3SecretKey)
	d.S3UsePathStyle = getEnvBool("GATEHOUSE_S3_USE_PATH_STYLE", d.S3UsePathStyle)

	a := &c.Auth
	a.SuperadminIDs = getEnvList("GATEHOUSE_SUPERADMIN_IDS", a.SuperadminIDs)
	a.SuperadminEmails = getEnvList("GATEHOUSE_SUPERADMIN_EMAILS", a.SuperadminEmails)
	a.PolicyVersion = getEnv("GATEHOUSE_POLICY_VERSION", a.PolicyVersion)
	a.CatalogTTL = getEnvDuration("GATEHOUSE_CATALOG_TTL", a.CatalogTTL)
	a.CatalogCacheSize = getEnvInt("GATEHOUSE_CATALOG_CACHE_SIZE", a.CatalogCacheSize)
	a.CatalogFile = getEnv("GATEHOUSE_CATALOG_FILE", a.CatalogFile)
	a.SignedTokenSecret = getEnv("GATEHOUSE_SIGNED_TOKEN_SECRET", a.SignedTokenSecret)
	a.SignedTokenPreviousSecrets = getEnvList("GATEHOUSE_SIGNED_TOKEN_PREVIOUS_SECRETS", a.SignedTokenPreviousSecrets)
	a.FileLinkTTL = getEnvDuration("GATEHOUSE_FILE_LINK_TTL", a.FileLinkTTL)
	a.MaxFileLinkTTL = getEnvDuration("GATEHOUSE_MAX_FILE_LINK_TTL", a.MaxFileLinkTTL)
	a.PINSessionSecret = getEnv("GATEHOUSE_PIN_SESSION_SECRET", a.PINSessionSecret)
	a.PINSessionTTL = getEnvDuration("GATEHOUSE_PIN_SESSION_TTL", a.PINSessionTTL)
	a.PortalTokenPrefix = getEnv("GATEHOUSE_PORTAL_TOKEN_PREFIX", a.PortalTokenPrefix)

	au := &c.Audit
	au.Async = getEnvBool("GATEHOUSE_AUDIT_ASYNC", au.Async)
	au.WriteTimeout = getEnvDuration("GATEHOUSE_AUDIT_WRITE_TIMEOUT", au.WriteTimeout)
	au.Retention = getEnvDuration("GATEHOUSE_AUDIT_RETENTION", au.Retention)
	au.RetentionSchedule = getEnv("GATEHOUSE_AUDIT_RETENTION_SCHEDULE", au.RetentionSchedule)
	au.LogDecisions = getEnvBool("GATEHOUSE_AUDIT_LOG_DECISIONS", au.LogDecisions)

	o := &c.Observability
	o.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.ActorHeader == "" {
		return fmt.Errorf("actor header is required")
	}
	if c.Server.PublicRequestsPerMinute < 0 || c.Server.PINAttemptsPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	switch c.Documents.Backend {
	case "":
	case "filesystem":
		if c.Documents.RootDir == "" {
			return fmt.Errorf("documents root dir is required for filesystem documents")
		}
	case "s3":
		if c.Documents.S3Bucket == "" {
			return fmt.Errorf("s3 bucket is required for s3 documents")
		}
	default:
		return fmt.Errorf("invalid documents backend: %s (must be filesystem or s3)", c.Documents.Backend)
	}

	if len(c.Auth.SignedTokenSecret) < minSecretLength {
		return fmt.Errorf("signed token secret must be at least %d bytes", minSecretLength)
	}
	for i, s := range c.Auth.SignedTokenPreviousSecrets {
		if len(s) < minSecretLength {
			return fmt.Errorf("previous signed token secret %d must be at least %d bytes", i, minSecretLength)
		}
	}
	if len(c.Auth.PINSessionSecret) < minSecretLength {
		return fmt.Errorf("PIN session secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.PINSessionSecret == c.Auth.SignedTokenSecret {
		return fmt.Errorf("PIN session secret must differ from the signed token secret")
	}
	if c.Auth.CatalogTTL <= 0 {
		return fmt.Errorf("catalog TTL must be positive")
	}
	if c.Auth.PINSessionTTL <= 0 {
		return fmt.Errorf("PIN session TTL must be positive")
	}
	if c.Auth.FileLinkTTL <= 0 || c.Auth.FileLinkTTL > c.Auth.MaxFileLinkTTL {
		return fmt.Errorf("file link TTL must be positive and at most the maximum file link TTL")
	}
	if c.Auth.PortalTokenPrefix == "" {
		return fmt.Errorf("portal token prefix is required")
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}
	if c.Audit.Retention > 0 && c.Audit.RetentionSchedule == "" {
		return fmt.Errorf("audit retention schedule is required when retention is set")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// Addr returns the HTTP listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
