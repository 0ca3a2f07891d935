package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/sso"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

// EnvProduction is the Auth.Env value that turns on production checks
const EnvProduction = "production"

// MinProductionSecretLen is the shortest JWT secret accepted in production
const MinProductionSecretLen = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Identity  IdentityConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For
	TrustedProxies  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds session token and password settings
type AuthConfig struct {
	Env         string
	JWTSecret   string
	TokenExpiry time.Duration
	BcryptCost  int

	// CookieSecure overrides the production default when set
	CookieSecure *bool

	// SessionKey signs the OAuth state cookie
	SessionKey string

	// DefaultSecret is true when JWTSecret fell back to the development value
	DefaultSecret bool
}

// IsProduction reports whether production checks apply
func (a AuthConfig) IsProduction() bool {
	return strings.EqualFold(a.Env, EnvProduction)
}

// SecureCookies reports whether cookies carry the Secure attribute
func (a AuthConfig) SecureCookies() bool {
	if a.CookieSecure != nil {
		return *a.CookieSecure
	}
	return a.IsProduction()
}

// RateLimitConfig holds the login and registration limiter settings
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// Backend is "memory" or "redis"
	Backend string
	// CleanupSchedule is the cron spec for pruning expired in-memory windows
	CleanupSchedule string
}

// IdentityConfig holds the external identity provider settings
type IdentityConfig struct {
	Enabled      bool
	Issuer       string
	JWKSURL      string
	Audience     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	APIBaseURL   string
	Scopes       []string
}

// OAuthEnabled reports whether the browser login flow is configured
func (i IdentityConfig) OAuthEnabled() bool {
	return i.Enabled && i.ClientID != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// AuditLog is the security log destination: "stdout", "stderr" or a file path
	AuditLog string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Identity:      loadIdentityConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TUTORHUB_HOST", "0.0.0.0"),
		Port:            getEnv("TUTORHUB_PORT", "3000"),
		ReadTimeout:     getEnvDuration("TUTORHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TUTORHUB_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("TUTORHUB_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TUTORHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("TUTORHUB_REQUEST_TIMEOUT", 20*time.Second),
		MaxBodyBytes:    getEnvInt64("TUTORHUB_MAX_BODY_BYTES", 10<<20),
		CORSOrigins:     getEnvList("TUTORHUB_CORS_ORIGINS"),
		TrustedProxies:  getEnvList("TUTORHUB_TRUSTED_PROXIES"),
		HealthPort:      getEnv("TUTORHUB_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Storage type
	if storageType := getEnv("TUTORHUB_STORAGE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}

	// PostgreSQL config
	if pgURL := getEnv("TUTORHUB_DATABASE_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	cfg.PostgresReplicaURLs = getEnvList("TUTORHUB_DATABASE_REPLICA_URLS")
	if maxConns := getEnvInt("TUTORHUB_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("TUTORHUB_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("TUTORHUB_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("TUTORHUB_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("TUTORHUB_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("TUTORHUB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("TUTORHUB_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("TUTORHUB_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Avatar config
	if backend := getEnv("TUTORHUB_AVATAR_BACKEND", ""); backend != "" {
		cfg.AvatarBackend = strings.ToLower(backend)
	}
	cfg.AvatarDir = getEnv("TUTORHUB_AVATAR_DIR", cfg.AvatarDir)
	cfg.AvatarURLPrefix = getEnv("TUTORHUB_AVATAR_URL_PREFIX", cfg.AvatarURLPrefix)

	// S3 config
	cfg.S3Endpoint = getEnv("TUTORHUB_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("TUTORHUB_S3_REGION", "")
	cfg.S3Bucket = getEnv("TUTORHUB_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("TUTORHUB_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("TUTORHUB_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("TUTORHUB_S3_USE_PATH_STYLE", false)
	cfg.S3PublicURL = getEnv("TUTORHUB_S3_PUBLIC_URL", "")

	cfg.StatsCacheTTL = getEnvDuration("TUTORHUB_STATS_CACHE_TTL", cfg.StatsCacheTTL)

	return cfg
}

func loadAuthConfig() AuthConfig {
	cfg := AuthConfig{
		Env:         getEnv("TUTORHUB_ENV", "development"),
		JWTSecret:   getEnv("TUTORHUB_JWT_SECRET", ""),
		TokenExpiry: getEnvDuration("TUTORHUB_JWT_EXPIRY", auth.DefaultTokenExpiry),
		BcryptCost:  getEnvInt("TUTORHUB_BCRYPT_COST", auth.DefaultBcryptCost),
		SessionKey:  getEnv("TUTORHUB_SESSION_KEY", ""),
	}
	if v := os.Getenv("TUTORHUB_COOKIE_SECURE"); v != "" {
		secure := getEnvBool("TUTORHUB_COOKIE_SECURE", false)
		cfg.CookieSecure = &secure
	}
	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = auth.DevelopmentSecret
		cfg.DefaultSecret = true
	}
	return cfg
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:           getEnvInt("TUTORHUB_LOGIN_RATE_LIMIT", 3),
		Window:          getEnvDuration("TUTORHUB_LOGIN_RATE_WINDOW", time.Minute),
		Backend:         strings.ToLower(getEnv("TUTORHUB_RATE_LIMIT_BACKEND", "memory")),
		CleanupSchedule: getEnv("TUTORHUB_RATE_LIMIT_CLEANUP", "@every 1m"),
	}
}

func loadIdentityConfig() IdentityConfig {
	scopes := getEnvList("TUTORHUB_IDP_SCOPES")
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return IdentityConfig{
		Enabled:      getEnvBool("TUTORHUB_IDP_ENABLED", false),
		Issuer:       getEnv("TUTORHUB_IDP_ISSUER", ""),
		JWKSURL:      getEnv("TUTORHUB_IDP_JWKS_URL", ""),
		Audience:     getEnv("TUTORHUB_IDP_AUDIENCE", ""),
		ClientID:     getEnv("TUTORHUB_IDP_CLIENT_ID", ""),
		ClientSecret: getEnv("TUTORHUB_IDP_CLIENT_SECRET", ""),
		AuthURL:      getEnv("TUTORHUB_IDP_AUTH_URL", ""),
		TokenURL:     getEnv("TUTORHUB_IDP_TOKEN_URL", ""),
		RedirectURL:  getEnv("TUTORHUB_IDP_REDIRECT_URL", ""),
		APIBaseURL:   getEnv("TUTORHUB_IDP_API_URL", ""),
		Scopes:       scopes,
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TUTORHUB_LOG_LEVEL", "info")),
		AuditLog:           getEnv("TUTORHUB_AUDIT_LOG", "stdout"),
		MetricsEnabled:     getEnvBool("TUTORHUB_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TUTORHUB_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TUTORHUB_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TUTORHUB_OTEL_SERVICE_NAME", "tutorhub"),
		OTelServiceVersion: getEnv("TUTORHUB_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TUTORHUB_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TUTORHUB_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("database URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Storage.AvatarBackend {
	case "filesystem":
		if c.Storage.AvatarDir == "" {
			return fmt.Errorf("avatar directory is required for filesystem avatars")
		}
	case "s3":
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			return fmt.Errorf("S3 bucket and region are required for s3 avatars")
		}
	default:
		return fmt.Errorf("invalid avatar backend: %s (must be filesystem or s3)", c.Storage.AvatarBackend)
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}

	if c.Identity.Enabled {
		if c.Identity.Issuer == "" || c.Identity.JWKSURL == "" || c.Identity.Audience == "" {
			return fmt.Errorf("identity issuer, JWKS URL and audience are required when the identity provider is enabled")
		}
		if c.Identity.ClientID != "" {
			if c.Identity.AuthURL == "" || c.Identity.TokenURL == "" {
				return fmt.Errorf("identity auth and token URLs are required with a client id")
			}
			if c.Auth.SessionKey == "" {
				return fmt.Errorf("session key is required for the identity login flow")
			}
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.IsProduction() {
		if len(c.Auth.JWTSecret) < MinProductionSecretLen {
			return fmt.Errorf("JWT secret must be at least %d bytes in production", MinProductionSecretLen)
		}
		if c.Auth.SessionKey != "" && len(c.Auth.SessionKey) < MinProductionSecretLen {
			return fmt.Errorf("session key must be at least %d bytes in production", MinProductionSecretLen)
		}
	}
	if c.Auth.TokenExpiry <= 0 {
		return fmt.Errorf("token expiry must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// SessionCookie returns the session cookie settings
func (c *Config) SessionCookie() auth.SessionCookie {
	return auth.SessionCookie{
		Secure: c.Auth.SecureCookies(),
		MaxAge: c.Auth.TokenExpiry,
	}
}

// SSOConfig returns the identity bridge settings
func (c *Config) SSOConfig() sso.Config {
	return sso.Config{
		Issuer:       c.Identity.Issuer,
		JWKSURL:      c.Identity.JWKSURL,
		Audience:     c.Identity.Audience,
		ClientID:     c.Identity.ClientID,
		ClientSecret: c.Identity.ClientSecret,
		AuthURL:      c.Identity.AuthURL,
		TokenURL:     c.Identity.TokenURL,
		RedirectURL:  c.Identity.RedirectURL,
		Scopes:       c.Identity.Scopes,
		APIBaseURL:   c.Identity.APIBaseURL,
		SessionKey:   []byte(c.Auth.SessionKey),
		Secure:       c.Auth.SecureCookies(),
	}
}

// OTelConfig returns the tracing settings
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

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

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
