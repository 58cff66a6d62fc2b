package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/admin"
	"github.com/playrooms/backend/internal/api"
	"github.com/playrooms/backend/internal/archive"
	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/database"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/game/fair"
	"github.com/playrooms/backend/internal/game/luckymine"
	"github.com/playrooms/backend/internal/game/ludo"
	"github.com/playrooms/backend/internal/gamestate"
	"github.com/playrooms/backend/internal/migrations"
	"github.com/playrooms/backend/internal/outbox"
	"github.com/playrooms/backend/internal/redis"
	"github.com/playrooms/backend/internal/registry"
	"github.com/playrooms/backend/internal/rooms"
	"github.com/playrooms/backend/internal/scheduler"
	"github.com/playrooms/backend/internal/ws"
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

	if cfg.MigrateOnStart {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Overlay operator-tuned settings from the DB onto the env config.
	if err := admin.ApplyOverrides(db, cfg); err != nil {
		log.Printf("[CONFIG] Could not load runtime settings: %v", err)
	}

	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	reg := registry.New(rdb)
	econ := economy.NewService(db, rdb, cfg)

	// The commitment is public from the start; the seed itself is revealed
	// when rotated so players can verify past rolls and boards.
	seed, commitment := fair.GenerateServerSeed()
	log.Printf("[FAIR] Server seed commitment: %s", commitment)

	registerGames(seed, rdb, reg)

	hub := ws.NewHub()
	go hub.Run()
	d := ws.NewDispatcher(hub, reg, econ, db, rdb, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go d.StartFanoutSubscriber(ctx)
	go d.StartPlayerUpdateConsumer(ctx)

	arc := archive.NewService(db, econ)
	go outbox.NewDispatcher(db, rdb, cfg, arc).Start(ctx)
	go scheduler.New(reg, cfg, d).Start(ctx)
	go econ.StartRetentionWorker(ctx)
	go gamestate.StartSnapshotWorker(ctx, db, rdb, reg, cfg)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, db, rdb, cfg, d, reg, econ, arc)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("Starting PlayRooms server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down, waiting for in-flight work...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}

// registerGames wires the built-in engines into the module registry.
func registerGames(seed string, rdb *goredis.Client, reg *registry.RoomRegistry) {
	game.Register(rooms.New(ludo.GameType, game.TurnBased,
		ludo.NewEngineWithRoller(fair.DiceRoller(seed)), ludo.Codec{}, rdb, reg,
		rooms.Hooks[ludo.State]{
			InitialState: func(_ *game.Meta) *ludo.State { return ludo.NewState() },
			SeatOrder:    ludo.SeatPreference,
			PotBased:     true,
		}))

	game.Register(rooms.New(luckymine.GameType, game.TurnBased,
		luckymine.NewEngine(), luckymine.Codec{}, rdb, reg,
		rooms.Hooks[luckymine.State]{
			InitialState: func(meta *game.Meta) *luckymine.State {
				tiles := configInt(meta.Config, "tiles", 25)
				mines := configInt(meta.Config, "mines", 5)
				slope := configInt(meta.Config, "rewardSlope", 10)
				rng := fair.NewSeededRNG(seed + "-" + meta.RoomID)
				return luckymine.NewStateWithRand(tiles, mines, uint32(meta.EntryFee), uint32(slope), rng)
			},
			PotBased: false,
		}))
}

func configInt(m map[string]string, key string, def int) int {
	if v, ok := m[key]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
