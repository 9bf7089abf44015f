package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/flagx"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MODERNAPI_"

const defaultEnvFile = ".env"

// parseEnv loads the .env file (from -env, or ./.env when present) and then
// overlays MODERNAPI_* variables. Variables already set in the process
// environment win over the file.
func parseEnv(config *Config) error {
	return parseEnvFrom(config, flagx.EnvFileFlag())
}

func parseEnvFrom(config *Config, path string) error {
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); err == nil {
			path = defaultEnvFile
		}
	}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	b := envBinder{}
	b.str("HTTP_ADDR", &config.EndpointAddrHTTP)
	b.str("GRPC_ADDR", &config.EndpointAddrGRPC)
	b.str("DATABASE_DRIVER", &config.DatabaseDriver)
	b.str("DATABASE_DSN", &config.DatabaseDSN)
	b.str("SECRET_KEY", &config.SecretKey)
	b.str("ISSUER", &config.Issuer)
	b.str("AUDIENCE", &config.Audience)
	b.duration("ACCESS_TOKEN_TTL", &config.AccessTokenValidityDuration)
	b.duration("REFRESH_TOKEN_TTL", &config.RefreshTokenValidityDuration)
	b.duration("REMEMBER_ME_REFRESH_TOKEN_TTL", &config.RememberMeRefreshTokenValidityDuration)
	b.integer("MAX_FAILED_ACCESS_ATTEMPTS", &config.MaxFailedAccessAttempts)
	b.duration("LOCKOUT_DURATION", &config.LockoutDuration)
	b.str("PASSWORD_HASHER", &config.PasswordHasher)
	b.boolean("REVOKE_SESSIONS_ON_PASSWORD_CHANGE", &config.RevokeSessionsOnPasswordChange)
	b.duration("CLEANUP_INTERVAL", &config.CleanupInterval)
	b.str("LOG_LEVEL", &config.LogLevel)
	b.str("LOG_FORMAT", &config.LogFormat)
	b.str("LOG_BACKEND", &config.LogBackend)
	b.str("REDIS_ADDR", &config.RedisAddr)
	b.integer("RATE_LIMIT_REQUESTS", &config.RateLimitRequests)
	b.duration("RATE_LIMIT_WINDOW", &config.RateLimitWindow)
	b.str("SMTP_HOST", &config.SMTPHost)
	b.integer("SMTP_PORT", &config.SMTPPort)
	b.str("SMTP_USER", &config.SMTPUser)
	b.str("SMTP_PASSWORD", &config.SMTPPassword)
	b.str("MAIL_FROM", &config.MailFrom)

	return errors.Join(b.errs...)
}

type envBinder struct {
	errs []error
}

func (b *envBinder) lookup(name string) (string, bool) {
	return os.LookupEnv(EnvPrefix + name)
}

func (b *envBinder) str(name string, dst *string) {
	if v, ok := b.lookup(name); ok {
		*dst = v
	}
}

func (b *envBinder) integer(name string, dst *int) {
	v, ok := b.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (b *envBinder) boolean(name string, dst *bool) {
	v, ok := b.lookup(name)
	if !ok {
		return
	}
	x, err := strconv.ParseBool(v)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = x
}

func (b *envBinder) duration(name string, dst *time.Duration) {
	v, ok := b.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
