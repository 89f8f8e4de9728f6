package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ConfigValidationError represents a configuration validation error.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator collects validation errors so they can be reported at once.
type ConfigValidator struct {
	errors []ConfigValidationError
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{errors: make([]ConfigValidationError, 0)}
}

func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{Field: field, Message: message})
}

func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *ConfigValidator) Errors() []ConfigValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func (v *ConfigValidator) ValidateRequired(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required setting not set")
	}
}

// ValidateURL accepts empty values; pair with ValidateRequired when needed.
func (v *ConfigValidator) ValidateURL(key, value string) {
	if value == "" {
		return
	}
	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
	if parsed.Host == "" {
		v.AddError(key, "URL must include a host")
	}
}

func (v *ConfigValidator) ValidateMinLength(key, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(key, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

func (v *ConfigValidator) ValidatePositiveInt(key string, value int64) {
	if value <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

func (v *ConfigValidator) ValidatePositiveDuration(key string, value time.Duration) {
	if value <= 0 {
		v.AddError(key, "must be a positive duration (e.g. 15m, 24h)")
	}
}

// ValidateBcryptHash validates that a value looks like a bcrypt hash.
func (v *ConfigValidator) ValidateBcryptHash(key, value string) {
	if value == "" {
		return
	}
	if !strings.HasPrefix(value, "$2a$") &&
		!strings.HasPrefix(value, "$2b$") &&
		!strings.HasPrefix(value, "$2y$") {
		v.AddError(key, "must be a valid bcrypt hash (starts with $2a$, $2b$, or $2y$)")
	}
	// Bcrypt hashes are 60 characters
	if len(value) != 60 {
		v.AddError(key, "bcrypt hash must be exactly 60 characters")
	}
}

func (v *ConfigValidator) ValidateCronSpec(key, value string) {
	if _, err := cron.ParseStandard(value); err != nil {
		v.AddError(key, fmt.Sprintf("invalid schedule: %v", err))
	}
}

// Validate checks every setting and reports all problems in one error.
func (c Config) Validate() error {
	v := NewConfigValidator()

	v.ValidateRequired(envName(KeyAddr), c.Addr)
	v.ValidateURL(envName(KeyBaseURL), c.BaseURL)
	v.ValidateRequired(envName(KeyDatabaseURL), c.DatabaseURL)

	v.ValidateEnum(envName(KeyStorage), c.Storage, []string{"disk", "minio"})
	switch c.Storage {
	case "disk":
		v.ValidateRequired(envName(KeyUploadDir), c.UploadDir)
	case "minio":
		v.ValidateRequired(envName(KeyS3Endpoint), c.S3.Endpoint)
		v.ValidateRequired(envName(KeyS3AccessKey), c.S3.AccessKey)
		v.ValidateRequired(envName(KeyS3SecretKey), c.S3.SecretKey)
		v.ValidateRequired(envName(KeyS3Bucket), c.S3.Bucket)
		if strings.Contains(c.S3.Endpoint, "://") {
			v.ValidateURL(envName(KeyS3Endpoint), c.S3.Endpoint)
		}
	}

	v.ValidatePositiveInt(envName(KeyMaxUploadBytes), c.MaxUploadBytes)
	v.ValidatePositiveInt(envName(KeyMaxCommentLength), int64(c.MaxCommentLength))
	v.ValidatePositiveDuration(envName(KeyLinkTTL), c.LinkTTL)

	for _, l := range []struct {
		window, max string
		limit       Limit
	}{
		{KeyRateLimitWindow, KeyRateLimitMax, c.RateLimit},
		{KeyDownloadRateLimitWindow, KeyDownloadRateLimitMax, c.DownloadRateLimit},
		{KeyLoginRateLimitWindow, KeyLoginRateLimitMax, c.LoginRateLimit},
	} {
		v.ValidatePositiveDuration(envName(l.window), l.limit.Window)
		v.ValidatePositiveInt(envName(l.max), int64(l.limit.Max))
	}

	v.ValidateEnum(envName(KeyRateLimitBackend), c.RateLimitBackend, []string{"memory", "redis"})
	if c.RateLimitBackend == "redis" {
		v.ValidateRequired(envName(KeyRedisAddr), c.Redis.Addr)
	}

	v.ValidateEnum(envName(KeyAuthMode), c.AuthMode, []string{"password", "disabled"})
	if c.AuthMode == "password" {
		v.ValidateRequired(envName(KeyAuthBcryptHash), c.AuthBcryptHash)
		v.ValidateBcryptHash(envName(KeyAuthBcryptHash), c.AuthBcryptHash)
		v.ValidateRequired(envName(KeySessionSecret), c.SessionSecret)
		v.ValidateMinLength(envName(KeySessionSecret), c.SessionSecret, 32)
		v.ValidatePositiveDuration(envName(KeySessionTTL), c.SessionTTL)
	}

	if c.Sweep.Enabled {
		v.ValidateCronSpec(envName(KeyLinkSweepSchedule), c.Sweep.Schedule)
		v.ValidatePositiveDuration(envName(KeyLinkRetention), c.Sweep.Retention)
	}

	v.ValidateEnum(envName(KeyLogFormat), c.Log.Format, []string{"", "json", "text"})
	v.ValidateEnum(envName(KeyLogLevel), c.Log.Level, []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum(envName(KeyEnv), c.Log.Env, []string{"", "development", "production", "staging"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}
