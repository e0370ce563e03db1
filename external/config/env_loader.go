package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/circles/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env         string `env:"ENV" envDefault:"production"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	LiveKitAPIKey    string        `env:"LIVEKIT_API_KEY,required"`
	LiveKitAPISecret string        `env:"LIVEKIT_API_SECRET,required"`
	LiveKitURL       string        `env:"LIVEKIT_URL"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"6h"`

	IdentityJWTSecret string `env:"IDENTITY_JWT_SECRET,required"`

	DailyCircleQuota  int           `env:"DAILY_CIRCLE_QUOTA" envDefault:"5"`
	QuotaTimezone     string        `env:"QUOTA_TIMEZONE" envDefault:"UTC"`
	HostGracePeriod   time.Duration `env:"HOST_GRACE_PERIOD" envDefault:"5m"`
	MaxCircleDuration time.Duration `env:"MAX_CIRCLE_DURATION" envDefault:"0s"`
	DefaultPageSize   int           `env:"DEFAULT_PAGE_SIZE" envDefault:"8"`
	MaxPageSize       int           `env:"MAX_PAGE_SIZE" envDefault:"50"`
	EnforceSpeakerCap bool          `env:"ENFORCE_SPEAKER_CAP" envDefault:"false"`

	WebhookDedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"1h"`
	DedupPath       string        `env:"DEDUP_PATH"`
	UserCacheTTL    time.Duration `env:"USER_CACHE_TTL" envDefault:"5m"`

	AnnounceWebhookURL       string `env:"ANNOUNCE_WEBHOOK_URL"`
	DiscordBotToken          string `env:"DISCORD_BOT_TOKEN"`
	DiscordAnnounceChannelID string `env:"DISCORD_ANNOUNCE_CHANNEL_ID"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env file is invalid: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                      raw.Env,
		HTTPAddr:                 raw.HTTPAddr,
		StoreDriver:              raw.StoreDriver,
		DatabaseURL:              raw.DatabaseURL,
		LiveKitAPIKey:            raw.LiveKitAPIKey,
		LiveKitAPISecret:         raw.LiveKitAPISecret,
		LiveKitURL:               raw.LiveKitURL,
		TokenTTL:                 raw.TokenTTL,
		IdentityJWTSecret:        raw.IdentityJWTSecret,
		DailyCircleQuota:         raw.DailyCircleQuota,
		QuotaTimezone:            raw.QuotaTimezone,
		HostGracePeriod:          raw.HostGracePeriod,
		MaxCircleDuration:        raw.MaxCircleDuration,
		DefaultPageSize:          raw.DefaultPageSize,
		MaxPageSize:              raw.MaxPageSize,
		EnforceSpeakerCap:        raw.EnforceSpeakerCap,
		WebhookDedupTTL:          raw.WebhookDedupTTL,
		DedupPath:                raw.DedupPath,
		UserCacheTTL:             raw.UserCacheTTL,
		AnnounceWebhookURL:       raw.AnnounceWebhookURL,
		DiscordBotToken:          raw.DiscordBotToken,
		DiscordAnnounceChannelID: raw.DiscordAnnounceChannelID,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
