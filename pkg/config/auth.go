package config

import "time"

// AuthConfig holds runtime configuration for the auth service.
type AuthConfig struct {
	Environment          string
	Addr                 string
	DatabaseURL          string
	MigrationsDir        string
	JWTSecret            string
	SessionTTL           time.Duration
	LockoutThreshold     int
	ActivationTTL        time.Duration
	SessionSweepInterval time.Duration
	TeamsWebhookURL      string
	WebhookSecret        string
	WebhookTimeout       time.Duration
	AdminToken           string
	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
	LogLevel             string
}

// LoadAuthConfig constructs an AuthConfig from environment variables.
func LoadAuthConfig() AuthConfig {
	return AuthConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("AUTH_ADDR", ":4000"),
		DatabaseURL:          GetString("AUTH_DATABASE_URL", "postgres://pagestack:pagestack@db:5432/auth?sslmode=disable"),
		MigrationsDir:        GetString("AUTH_MIGRATIONS_DIR", "db/migrations/auth"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		SessionTTL:           time.Duration(GetInt("SESSION_TTL_HOURS", 24)) * time.Hour,
		LockoutThreshold:     GetInt("LOCKOUT_THRESHOLD", 5),
		ActivationTTL:        time.Duration(GetInt("ACTIVATION_TTL_HOURS", 24)) * time.Hour,
		SessionSweepInterval: GetSeconds("SESSION_SWEEP_SECONDS", 10*time.Minute),
		TeamsWebhookURL:      GetString("TEAMS_WEBHOOK_URL", "http://teams:4100/webhooks/auth"),
		WebhookSecret:        GetString("WEBHOOK_SECRET", "supersecret"),
		WebhookTimeout:       GetSeconds("WEBHOOK_TIMEOUT_SECONDS", 5*time.Second),
		AdminToken:           GetString("ADMIN_TOKEN", ""),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
		LogLevel:             GetString("LOG_LEVEL", "info"),
	}
}
