// Package config loads server settings from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"subtracker/internal/alerts"
)

// Config holds all configuration for the server.
type Config struct {
	Port             string `mapstructure:"PORT"`
	DBPath           string `mapstructure:"DB_PATH"`
	AdminUser        string `mapstructure:"ADMIN_USER"`
	AdminPassword    string `mapstructure:"ADMIN_PASSWORD"`
	ReminderSchedule string `mapstructure:"REMINDER_SCHEDULE"`
	DefaultCurrency  string `mapstructure:"DEFAULT_CURRENCY"`

	SavingsRate        float64 `mapstructure:"SAVINGS_RATE"`
	HighSpendThreshold float64 `mapstructure:"HIGH_SPEND_THRESHOLD"`

	// ExchangeRates is a comma separated list of CODE=rate pairs quoted
	// against DefaultCurrency, e.g. "USD=0.2667,EUR=0.2450".
	ExchangeRates string `mapstructure:"EXCHANGE_RATES"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	defaults := alerts.DefaultConfig()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", "subscriptions.db")
	v.SetDefault("REMINDER_SCHEDULE", "@hourly")
	v.SetDefault("DEFAULT_CURRENCY", "SAR")
	v.SetDefault("SAVINGS_RATE", defaults.SavingsRate)
	v.SetDefault("HIGH_SPEND_THRESHOLD", defaults.HighSpendThreshold)
	v.SetDefault("EXCHANGE_RATES", "")
	v.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"PORT", "DB_PATH", "ADMIN_USER", "ADMIN_PASSWORD", "REMINDER_SCHEDULE",
		"DEFAULT_CURRENCY", "SAVINGS_RATE", "HIGH_SPEND_THRESHOLD", "EXCHANGE_RATES",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	if cfg.SavingsRate < 0 || cfg.SavingsRate >= 1 {
		return nil, fmt.Errorf("SAVINGS_RATE must be in [0, 1), got %v", cfg.SavingsRate)
	}
	if cfg.HighSpendThreshold < 0 {
		return nil, fmt.Errorf("HIGH_SPEND_THRESHOLD must not be negative, got %v", cfg.HighSpendThreshold)
	}
	if _, err := cfg.Rates(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Alerts returns the alert thresholds with configured overrides applied.
func (c *Config) Alerts() alerts.Config {
	cfg := alerts.DefaultConfig()
	cfg.SavingsRate = c.SavingsRate
	cfg.HighSpendThreshold = c.HighSpendThreshold
	return cfg
}

// Rates parses ExchangeRates.
func (c *Config) Rates() (map[string]float64, error) {
	rates := make(map[string]float64)
	for _, pair := range strings.Split(c.ExchangeRates, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("EXCHANGE_RATES: malformed pair %q", pair)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("EXCHANGE_RATES: invalid rate for %s", strings.TrimSpace(code))
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return rates, nil
}
