package config

import "time"

// AuthConfig configures authentication, sessions and lockout policy.
type AuthConfig struct {
	PasswordMinLength int    `yaml:"password_min_length"`
	MaxFailedAttempts int    `yaml:"max_failed_attempts"`
	LockoutDuration   string `yaml:"lockout_duration"`
	SessionTimeout    string `yaml:"session_timeout"`
	JWTExpiration     string `yaml:"jwt_expiration"`
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		PasswordMinLength: 12,
		MaxFailedAttempts: 5,
		LockoutDuration:   "30m",
		SessionTimeout:    "60m",
		JWTExpiration:     "60m",
	}
}

func (a AuthConfig) LockoutDurationValue() time.Duration {
	return parseDuration(a.LockoutDuration, 30*time.Minute)
}

func (a AuthConfig) SessionTimeoutValue() time.Duration {
	return parseDuration(a.SessionTimeout, time.Hour)
}

func (a AuthConfig) JWTExpirationValue() time.Duration {
	return parseDuration(a.JWTExpiration, time.Hour)
}
