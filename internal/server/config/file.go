package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/flagx"
	"github.com/dmitrijs2005/modernapi/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. Durations accept
// strings such as "15m" or integer nanoseconds. Absent keys leave the current
// value untouched.
type FileConfig struct {
	EndpointAddrHTTP                       string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	EndpointAddrGRPC                       string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDriver                         string         `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN                            string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                              string         `json:"secret_key" yaml:"secret_key"`
	Issuer                                 string         `json:"issuer" yaml:"issuer"`
	Audience                               string         `json:"audience" yaml:"audience"`
	AccessTokenValidityDuration            timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration           timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	RememberMeRefreshTokenValidityDuration timex.Duration `json:"remember_me_refresh_token_validity_duration" yaml:"remember_me_refresh_token_validity_duration"`
	MaxFailedAccessAttempts                int            `json:"max_failed_access_attempts" yaml:"max_failed_access_attempts"`
	LockoutDuration                        timex.Duration `json:"lockout_duration" yaml:"lockout_duration"`
	PasswordHasher                         string         `json:"password_hasher" yaml:"password_hasher"`
	RevokeSessionsOnPasswordChange         *bool          `json:"revoke_sessions_on_password_change" yaml:"revoke_sessions_on_password_change"`
	CleanupInterval                        timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	LogLevel                               string         `json:"log_level" yaml:"log_level"`
	LogFormat                              string         `json:"log_format" yaml:"log_format"`
	LogBackend                             string         `json:"log_backend" yaml:"log_backend"`
	RedisAddr                              string         `json:"redis_addr" yaml:"redis_addr"`
	RateLimitRequests                      *int           `json:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow                        timex.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	SMTPHost                               string         `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort                               int            `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser                               string         `json:"smtp_user" yaml:"smtp_user"`
	SMTPPassword                           string         `json:"smtp_password" yaml:"smtp_password"`
	MailFrom                               string         `json:"mail_from" yaml:"mail_from"`
}

// parseFile overlays the file named by -c/-config. The format is picked by
// extension: .yaml/.yml is YAML, anything else JSON.
func parseFile(config *Config) error {
	return parseFileAt(config, flagx.ConfigFileFlag())
}

func parseFileAt(config *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setStr(&c.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setStr(&c.EndpointAddrGRPC, fc.EndpointAddrGRPC)
	setStr(&c.DatabaseDriver, fc.DatabaseDriver)
	setStr(&c.DatabaseDSN, fc.DatabaseDSN)
	setStr(&c.SecretKey, fc.SecretKey)
	setStr(&c.Issuer, fc.Issuer)
	setStr(&c.Audience, fc.Audience)
	setDur(&c.AccessTokenValidityDuration, fc.AccessTokenValidityDuration)
	setDur(&c.RefreshTokenValidityDuration, fc.RefreshTokenValidityDuration)
	setDur(&c.RememberMeRefreshTokenValidityDuration, fc.RememberMeRefreshTokenValidityDuration)
	if fc.MaxFailedAccessAttempts != 0 {
		c.MaxFailedAccessAttempts = fc.MaxFailedAccessAttempts
	}
	setDur(&c.LockoutDuration, fc.LockoutDuration)
	setStr(&c.PasswordHasher, fc.PasswordHasher)
	if fc.RevokeSessionsOnPasswordChange != nil {
		c.RevokeSessionsOnPasswordChange = *fc.RevokeSessionsOnPasswordChange
	}
	setDur(&c.CleanupInterval, fc.CleanupInterval)
	setStr(&c.LogLevel, fc.LogLevel)
	setStr(&c.LogFormat, fc.LogFormat)
	setStr(&c.LogBackend, fc.LogBackend)
	setStr(&c.RedisAddr, fc.RedisAddr)
	if fc.RateLimitRequests != nil {
		c.RateLimitRequests = *fc.RateLimitRequests
	}
	setDur(&c.RateLimitWindow, fc.RateLimitWindow)
	setStr(&c.SMTPHost, fc.SMTPHost)
	if fc.SMTPPort != 0 {
		c.SMTPPort = fc.SMTPPort
	}
	setStr(&c.SMTPUser, fc.SMTPUser)
	setStr(&c.SMTPPassword, fc.SMTPPassword)
	setStr(&c.MailFrom, fc.MailFrom)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDur(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
