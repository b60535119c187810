package config

import "time"

// TeamsConfig holds runtime configuration for the teams service.
type TeamsConfig struct {
	Environment          string
	Addr                 string
	DatabaseURL          string
	MigrationsDir        string
	AuthURL              string
	WebhookSecret        string
	WebhookSkipVerify    bool
	DownstreamWebhookURL string
	DownstreamSecret     string
	WebhookTimeout       time.Duration
	MaxTeamsPerUser      int
	MaxMembersPerTeam    int
	RateLimitRedisAddr   string
	RateLimitRedisPass   string
	RateLimitRedisDB     int
	LogLevel             string
}

// LoadTeamsConfig constructs a TeamsConfig from environment variables.
//
// WEBHOOK_SKIP_VERIFY disables inbound signature checks for local development.
// It is ignored when APP_ENV is "production"; verification always runs there.
func LoadTeamsConfig() TeamsConfig {
	return TeamsConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("TEAMS_ADDR", ":4100"),
		DatabaseURL:          GetString("TEAMS_DATABASE_URL", "postgres://pagestack:pagestack@db:5432/teams?sslmode=disable"),
		MigrationsDir:        GetString("TEAMS_MIGRATIONS_DIR", "db/migrations/teams"),
		AuthURL:              GetString("AUTH_URL", "http://auth:4000"),
		WebhookSecret:        GetString("WEBHOOK_SECRET", "supersecret"),
		WebhookSkipVerify:    GetBool("WEBHOOK_SKIP_VERIFY", false),
		DownstreamWebhookURL: GetString("DOWNSTREAM_WEBHOOK_URL", ""),
		DownstreamSecret:     GetString("DOWNSTREAM_WEBHOOK_SECRET", ""),
		WebhookTimeout:       GetSeconds("WEBHOOK_TIMEOUT_SECONDS", 5*time.Second),
		MaxTeamsPerUser:      GetInt("MAX_TEAMS_PER_USER", 5),
		MaxMembersPerTeam:    GetInt("MAX_MEMBERS_PER_TEAM", 10),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
		LogLevel:             GetString("LOG_LEVEL", "info"),
	}
}
