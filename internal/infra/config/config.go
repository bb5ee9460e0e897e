package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the sync job.
type AppConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	CronSpecSync string `env:"CRON_SPEC_SYNC" envDefault:"0 3 * * *"` // 03:00 daily
	MetricsAddr  string `env:"METRICS_ADDR" envDefault:":9090"`
	RulesPath    string `env:"RULES_PATH"` // empty: built-in rule table

	PartnerBaseURL     string        `env:"PARTNER_BASE_URL" envDefault:"https://emplois.inclusion.beta.gouv.fr/api/v1"`
	PartnerToken       string        `env:"PARTNER_TOKEN"`
	PartnerConcurrency int           `env:"PARTNER_CONCURRENCY" envDefault:"4"`
	PartnerDelay       time.Duration `env:"PARTNER_DELAY" envDefault:"0s"`
	PartnerTimeout     time.Duration `env:"PARTNER_TIMEOUT" envDefault:"30s"`

	CampaignYear     int   `env:"CAMPAIGN_YEAR"`
	GeiqAssessmentID int64 `env:"GEIQ_ASSESSMENT_ID"`
	GeiqAntennaIDs   []int `env:"GEIQ_ANTENNA_IDS" envSeparator:","`
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables already set; a missing file is fine.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if cfg.PartnerConcurrency < 1 {
		return nil, fmt.Errorf("PARTNER_CONCURRENCY must be at least 1, got %d", cfg.PartnerConcurrency)
	}
	if cfg.PartnerDelay < 0 {
		return nil, fmt.Errorf("PARTNER_DELAY must not be negative, got %s", cfg.PartnerDelay)
	}
	return cfg, nil
}

// CampaignYearOr returns the configured campaign year, or the year before now's
// when none is set: assessments cover the previous calendar year.
func (c *AppConfig) CampaignYearOr(now time.Time) int {
	if c.CampaignYear > 0 {
		return c.CampaignYear
	}
	return now.Year() - 1
}
