package config

import (
	"fmt"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	HTTPAddr    string
	StoreDriver string
	DatabaseURL string

	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitURL       string
	TokenTTL         time.Duration

	IdentityJWTSecret string

	DailyCircleQuota  int
	QuotaTimezone     string
	HostGracePeriod   time.Duration
	MaxCircleDuration time.Duration
	DefaultPageSize   int
	MaxPageSize       int
	EnforceSpeakerCap bool

	WebhookDedupTTL time.Duration
	DedupPath       string
	UserCacheTTL    time.Duration

	AnnounceWebhookURL       string
	DiscordBotToken          string
	DiscordAnnounceChannelID string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.DailyCircleQuota <= 0 {
		return fmt.Errorf("DAILY_CIRCLE_QUOTA must be positive, got %d", c.DailyCircleQuota)
	}
	if c.HostGracePeriod <= 0 {
		return fmt.Errorf("HOST_GRACE_PERIOD must be positive, got %s", c.HostGracePeriod)
	}
	if c.MaxCircleDuration < 0 {
		return fmt.Errorf("MAX_CIRCLE_DURATION must not be negative, got %s", c.MaxCircleDuration)
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("page sizes are invalid: DEFAULT_PAGE_SIZE=%d MAX_PAGE_SIZE=%d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.DiscordBotToken != "" && c.DiscordAnnounceChannelID == "" {
		return fmt.Errorf("DISCORD_ANNOUNCE_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
		return fmt.Errorf("QUOTA_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "LIVEKIT_API_KEY", value: c.LiveKitAPIKey},
		{name: "LIVEKIT_API_SECRET", value: c.LiveKitAPISecret},
		{name: "IDENTITY_JWT_SECRET", value: c.IdentityJWTSecret},
		{name: "QUOTA_TIMEZONE", value: c.QuotaTimezone},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// QuotaLocation resolves QuotaTimezone. Validate has already checked it.
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
