// Package config loads portal settings from PORTAL_* environment variables
// and an optional config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"file-portal/internal/auth"
	"file-portal/internal/blob"
	"file-portal/internal/db"
	"file-portal/internal/logging"
)

const envPrefix = "PORTAL"

// Known keys. Each maps to PORTAL_<KEY> in the environment.
const (
	KeyAddr                    = "addr"
	KeyBaseURL                 = "base_url"
	KeyTrustProxy              = "trust_proxy"
	KeyDBDriver                = "db_driver"
	KeyDatabaseURL             = "database_url"
	KeyStorage                 = "storage"
	KeyUploadDir               = "upload_dir"
	KeyS3Endpoint              = "s3_endpoint"
	KeyS3AccessKey             = "s3_access_key"
	KeyS3SecretKey             = "s3_secret_key"
	KeyS3Bucket                = "s3_bucket"
	KeyMaxUploadBytes          = "max_upload_bytes"
	KeyMaxCommentLength        = "max_comment_length"
	KeyLinkTTL                 = "link_ttl"
	KeyRateLimitWindow         = "rate_limit_window"
	KeyRateLimitMax            = "rate_limit_max"
	KeyDownloadRateLimitWindow = "download_rate_limit_window"
	KeyDownloadRateLimitMax    = "download_rate_limit_max"
	KeyLoginRateLimitWindow    = "login_rate_limit_window"
	KeyLoginRateLimitMax       = "login_rate_limit_max"
	KeyRateLimitBackend        = "rate_limit_backend"
	KeyRedisAddr               = "redis_addr"
	KeyRedisPassword           = "redis_password"
	KeyRedisDB                 = "redis_db"
	KeyAuthMode                = "auth_mode"
	KeyAuthBcryptHash          = "auth_bcrypt_hash"
	KeySessionSecret           = "session_secret"
	KeySessionTTL              = "session_ttl"
	KeyLinkSweepEnabled        = "link_sweep_enabled"
	KeyLinkSweepSchedule       = "link_sweep_schedule"
	KeyLinkRetention           = "link_retention"
	KeyLogLevel                = "log_level"
	KeyLogFormat               = "log_format"
	KeyEnv                     = "env"
)

var defaults = map[string]any{
	KeyAddr:                    ":8080",
	KeyBaseURL:                 "",
	KeyTrustProxy:              false,
	KeyDBDriver:                "sqlite",
	KeyDatabaseURL:             "data/portal.db",
	KeyStorage:                 "disk",
	KeyUploadDir:               "uploads",
	KeyS3Endpoint:              "",
	KeyS3AccessKey:             "",
	KeyS3SecretKey:             "",
	KeyS3Bucket:                "",
	KeyMaxUploadBytes:          int64(200 << 20),
	KeyMaxCommentLength:        1000,
	KeyLinkTTL:                 24 * time.Hour,
	KeyRateLimitWindow:         15 * time.Minute,
	KeyRateLimitMax:            200,
	KeyDownloadRateLimitWindow: 15 * time.Minute,
	KeyDownloadRateLimitMax:    60,
	KeyLoginRateLimitWindow:    5 * time.Minute,
	KeyLoginRateLimitMax:       20,
	KeyRateLimitBackend:        "memory",
	KeyRedisAddr:               "",
	KeyRedisPassword:           "",
	KeyRedisDB:                 0,
	KeyAuthMode:                "password",
	KeyAuthBcryptHash:          "",
	KeySessionSecret:           "",
	KeySessionTTL:              720 * time.Hour,
	KeyLinkSweepEnabled:        false,
	KeyLinkSweepSchedule:       "@every 1h",
	KeyLinkRetention:           720 * time.Hour,
	KeyLogLevel:                "info",
	KeyLogFormat:               "text",
	KeyEnv:                     "development",
}

// Limit is one rate limiter's budget.
type Limit struct {
	Window time.Duration
	Max    int
}

// Redis holds the shared limiter backend settings.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Sweep configures the optional expired-link purge.
type Sweep struct {
	Enabled   bool
	Schedule  string
	Retention time.Duration
}

// Config is the fully resolved portal configuration.
type Config struct {
	Addr       string
	BaseURL    string
	TrustProxy bool

	DBDriver    db.Dialect
	DatabaseURL string

	Storage   string
	UploadDir string
	S3        blob.S3Config

	MaxUploadBytes   int64
	MaxCommentLength int
	LinkTTL          time.Duration

	RateLimit         Limit
	DownloadRateLimit Limit
	LoginRateLimit    Limit
	RateLimitBackend  string
	Redis             Redis

	AuthMode       string
	AuthBcryptHash string
	SessionSecret  string
	SessionTTL     time.Duration

	Sweep Sweep

	Log logging.Config
}

// Load reads the environment and, when PORTAL_CONFIG names one, a config
// file. Environment values win over the file. The result is validated.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
		_ = v.BindEnv(k, envPrefix+"_"+strings.ToUpper(k))
	}

	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	dialect, err := db.ParseDialect(v.GetString(KeyDBDriver))
	if err != nil {
		return Config{}, ConfigValidationError{Field: envName(KeyDBDriver), Message: err.Error()}
	}

	return Config{
		Addr:        v.GetString(KeyAddr),
		BaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(KeyBaseURL)), "/"),
		TrustProxy:  v.GetBool(KeyTrustProxy),
		DBDriver:    dialect,
		DatabaseURL: v.GetString(KeyDatabaseURL),
		Storage:     strings.ToLower(v.GetString(KeyStorage)),
		UploadDir:   v.GetString(KeyUploadDir),
		S3: blob.S3Config{
			Endpoint:  v.GetString(KeyS3Endpoint),
			AccessKey: v.GetString(KeyS3AccessKey),
			SecretKey: v.GetString(KeyS3SecretKey),
			Bucket:    v.GetString(KeyS3Bucket),
		},
		MaxUploadBytes:   v.GetInt64(KeyMaxUploadBytes),
		MaxCommentLength: v.GetInt(KeyMaxCommentLength),
		LinkTTL:          v.GetDuration(KeyLinkTTL),
		RateLimit: Limit{
			Window: v.GetDuration(KeyRateLimitWindow),
			Max:    v.GetInt(KeyRateLimitMax),
		},
		DownloadRateLimit: Limit{
			Window: v.GetDuration(KeyDownloadRateLimitWindow),
			Max:    v.GetInt(KeyDownloadRateLimitMax),
		},
		LoginRateLimit: Limit{
			Window: v.GetDuration(KeyLoginRateLimitWindow),
			Max:    v.GetInt(KeyLoginRateLimitMax),
		},
		RateLimitBackend: strings.ToLower(v.GetString(KeyRateLimitBackend)),
		Redis: Redis{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		AuthMode:       strings.ToLower(v.GetString(KeyAuthMode)),
		AuthBcryptHash: v.GetString(KeyAuthBcryptHash),
		SessionSecret:  v.GetString(KeySessionSecret),
		SessionTTL:     v.GetDuration(KeySessionTTL),
		Sweep: Sweep{
			Enabled:   v.GetBool(KeyLinkSweepEnabled),
			Schedule:  v.GetString(KeyLinkSweepSchedule),
			Retention: v.GetDuration(KeyLinkRetention),
		},
		Log: logging.Config{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
			Env:    v.GetString(KeyEnv),
		},
	}, nil
}

// AuthModeValue turns AuthMode into the auth package's explicit mode.
func (c Config) AuthModeValue() auth.Mode {
	if c.AuthMode == "disabled" {
		return auth.Disabled{}
	}
	return auth.PasswordHash{Hash: c.AuthBcryptHash}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}
