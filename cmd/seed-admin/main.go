package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/playrooms/backend/internal/admin"
	"github.com/playrooms/backend/internal/auth"
	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/database"
	"github.com/playrooms/backend/internal/game/luckymine"
	"github.com/playrooms/backend/internal/game/ludo"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin"
		log.Printf("Using default admin username: %s", username)
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "change-me-in-production"
		log.Printf("WARNING: Using default admin password. Set ADMIN_PASSWORD env var in production!")
	}

	if err := admin.CreateAdminUser(db, username, password, auth.RoleAdmin); err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}
	log.Printf("✓ Admin user %q created/updated", username)

	seedSettings(db)
	seedTemplates(db)

	log.Println("✓ Seeding complete")
	log.Printf("You can now login at /api/admin/login with username %q", username)
}

func seedSettings(db *sqlx.DB) {
	defaults := []struct{ key, value, description string }{
		{"Economy:InitialCoins", "100", "Coins granted to a wallet on first use"},
		{"Economy:IdempotencyKeyRetentionDays", "7", "Days before ledger idempotency keys are cleared"},
		{"Session:ReconnectionGracePeriodSeconds", "15", "Seconds a disconnected player keeps their seat"},
		{"RateLimit:MessagesPerMinute", "60", "Per-user WebSocket message budget"},
		{"GameLoop:TickIntervalMs", "5000", "Turn-timeout scheduler tick interval"},
	}
	for _, s := range defaults {
		if err := admin.SeedSetting(db, s.key, s.value, s.description); err != nil {
			log.Fatalf("Failed to seed setting %s: %v", s.key, err)
		}
	}
	log.Printf("✓ Seeded %d default settings", len(defaults))
}

func seedTemplates(db *sqlx.DB) {
	templates := []struct {
		name       string
		gameType   string
		maxPlayers int
		entryFee   int64
		config     string
	}{
		{"ludo-classic", ludo.GameType, 4, 100, `{"minPlayers":"2","turnTimeoutSeconds":"30"}`},
		{"ludo-duel", ludo.GameType, 2, 50, `{"minPlayers":"2","turnTimeoutSeconds":"30"}`},
		{"mine-duel", luckymine.GameType, 2, 50, `{"tiles":"25","mines":"5","rewardSlope":"10","turnTimeoutSeconds":"30"}`},
	}
	for _, t := range templates {
		_, err := db.Exec(`
			INSERT INTO room_templates (name, game_type, max_players, entry_fee, config, is_public)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (name) DO NOTHING
		`, t.name, t.gameType, t.maxPlayers, t.entryFee, t.config)
		if err != nil {
			log.Fatalf("Failed to seed template %s: %v", t.name, err)
		}
	}
	log.Printf("✓ Seeded %d room templates", len(templates))
}
