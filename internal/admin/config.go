package admin

import (
	"fmt"
	"log"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/models"
)

// Settings that must parse as non-negative integers before they are written.
var integerSettings = map[string]bool{
	"Economy:InitialCoins":                   true,
	"Economy:IdempotencyKeyRetentionDays":    true,
	"Session:ReconnectionGracePeriodSeconds": true,
	"RateLimit:MessagesPerMinute":            true,
	"GameLoop:TickIntervalMs":                true,
}

// AllSettings returns every runtime setting, ordered by key.
func AllSettings(db *sqlx.DB) ([]models.GlobalSetting, error) {
	settings := []models.GlobalSetting{}
	err := db.Select(&settings, `
		SELECT key, value, description
		FROM global_settings
		ORDER BY key
	`)
	return settings, err
}

// UpsertSetting writes one runtime setting. Known integer settings are
// validated before the write.
func UpsertSetting(db *sqlx.DB, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key must not be empty")
	}
	if integerSettings[key] {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("setting %s needs a non-negative integer, got %q", key, value)
		}
	}

	_, err := db.Exec(`
		INSERT INTO global_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

// SeedSetting inserts a setting only if the key does not exist yet, so
// operator edits survive reseeding.
func SeedSetting(db *sqlx.DB, key, value, description string) error {
	_, err := db.Exec(`
		INSERT INTO global_settings (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, value, description)
	return err
}

// ApplyOverrides loads global_settings and overlays the known keys onto cfg.
// Called once at startup. Economy:InitialCoins is also re-read by the wallet
// layer on every lazy account creation, so that one applies live too.
func ApplyOverrides(db *sqlx.DB, cfg *config.Config) error {
	settings, err := AllSettings(db)
	if err != nil {
		return err
	}

	applied := 0
	for _, s := range settings {
		n, err := strconv.Atoi(s.Value)
		if err != nil || n < 0 {
			continue
		}
		switch s.Key {
		case "Economy:InitialCoins":
			cfg.InitialCoins = int64(n)
		case "Economy:IdempotencyKeyRetentionDays":
			cfg.IdempotencyRetentionDays = n
		case "Session:ReconnectionGracePeriodSeconds":
			cfg.ReconnectGraceSeconds = n
		case "RateLimit:MessagesPerMinute":
			cfg.MessagesPerMinute = n
		case "GameLoop:TickIntervalMs":
			cfg.TickIntervalMs = n
		default:
			continue
		}
		applied++
	}

	log.Printf("[CONFIG] Applied %d runtime setting overrides from database", applied)
	return nil
}
