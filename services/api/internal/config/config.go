package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when neither an argument nor CONFIG_PATH is given.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port            string `yaml:"port"`
	LogLevel        string `yaml:"logLevel"`
	DatabaseURL     string `yaml:"databaseURL"`
	DocumentBackend string `yaml:"documentBackend"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	BlobBackend    string `yaml:"blobBackend"`
	BlobDir        string `yaml:"blobDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	JWTAccessSecret     string `yaml:"jwtAccessSecret"`
	JWTRefreshSecret    string `yaml:"jwtRefreshSecret"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`
	AccessTTL           string `yaml:"accessTTL"`
	RefreshTTL          string `yaml:"refreshTTL"`

	RateLimitBackend        string   `yaml:"rateLimitBackend"`
	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	RenewRateLimitPerMinute int      `yaml:"renewRateLimitPerMinute"`
	TrustedProxies          []string `yaml:"trustedProxies"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	JanitorConcurrency      int      `yaml:"janitorConcurrency"`
	CleanupMaxRetries       int      `yaml:"cleanupMaxRetries"`
	ShutdownTimeout         string   `yaml:"shutdownTimeout"`
}

// Load reads config from path, applies environment overrides and validates.
// An empty path falls back to CONFIG_PATH and then ConfigPath.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("DOCUMENT_BACKEND", &cfg.DocumentBackend)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("BLOB_BACKEND", &cfg.BlobBackend)
	str("BLOB_DIR", &cfg.BlobDir)
	str("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	str("MINIO_BUCKET", &cfg.MinioBucket)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	str("JWT_ACCESS_SECRET", &cfg.JWTAccessSecret)
	str("JWT_REFRESH_SECRET", &cfg.JWTRefreshSecret)
	str("JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath)
	str("JWT_PUBLIC_KEY_PATH", &cfg.JWTPublicKeyPath)
	str("JWT_KEY_ID", &cfg.JWTKeyID)
	str("JWT_VERIFY_PUBLIC_KEYS", &cfg.JWTVerifyPublicKeys)
	str("JWT_ISSUER", &cfg.JWTIssuer)
	str("JWT_AUDIENCE", &cfg.JWTAudience)
	str("JWT_LEEWAY", &cfg.JWTLeeway)
	str("ACCESS_TTL", &cfg.AccessTTL)
	str("REFRESH_TTL", &cfg.RefreshTTL)
	str("RATE_LIMIT_BACKEND", &cfg.RateLimitBackend)
	num("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	num("RENEW_RATE_LIMIT_PER_MINUTE", &cfg.RenewRateLimitPerMinute)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DocumentBackend == "" {
		cfg.DocumentBackend = "postgres"
	}
	if cfg.BlobBackend == "" {
		cfg.BlobBackend = "minio"
	}
	if cfg.RateLimitBackend == "" {
		cfg.RateLimitBackend = "redis"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "spoolhub"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.JanitorConcurrency == 0 {
		cfg.JanitorConcurrency = 1
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.RenewRateLimitPerMinute == 0 {
		cfg.RenewRateLimitPerMinute = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DocumentBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: documentBackend %q must be postgres or memory", cfg.DocumentBackend)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for the session cache")
	}
	switch cfg.BlobBackend {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioEndpoint, minioAccessKey and minioSecretKey are required")
		}
	case "file":
		if strings.TrimSpace(cfg.BlobDir) == "" {
			return errors.New("config: blobDir is required for the file blob backend")
		}
	case "memory":
	default:
		return fmt.Errorf("config: blobBackend %q must be minio, file or memory", cfg.BlobBackend)
	}
	if cfg.JWTAccessSecret == "" && cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtAccessSecret or jwtPrivateKeyPath is required")
	}
	if cfg.JWTAccessSecret != "" && cfg.JWTPrivateKeyPath != "" {
		return errors.New("config: set only one of jwtAccessSecret and jwtPrivateKeyPath")
	}
	if cfg.JWTPublicKeyPath != "" && cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPublicKeyPath requires jwtPrivateKeyPath")
	}
	if cfg.JWTRefreshSecret == "" {
		return errors.New("config: jwtRefreshSecret is required (set JWT_REFRESH_SECRET)")
	}
	if cfg.JWTRefreshSecret == cfg.JWTAccessSecret {
		return errors.New("config: jwtRefreshSecret must differ from jwtAccessSecret")
	}
	switch cfg.RateLimitBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: rateLimitBackend %q must be redis or memory", cfg.RateLimitBackend)
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RenewRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty yields fallback.
func ParseDuration(name, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
