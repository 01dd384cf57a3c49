package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/parla/chat-backend/internal/ai"
	"github.com/parla/chat-backend/internal/auth"
	"github.com/parla/chat-backend/internal/chat"
	"github.com/parla/chat-backend/internal/httpapi"
	"github.com/parla/chat-backend/internal/notify"
	"github.com/parla/chat-backend/internal/ratelimit"
	"github.com/parla/chat-backend/internal/session"
	"github.com/parla/chat-backend/internal/storage"
)

func main() {
	apiConfig := httpapi.DefaultConfig()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		apiConfig.ListenAddr = v
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			apiConfig.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("SNAPSHOT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apiConfig.SnapshotLimit = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		apiConfig.AllowedOrigins = strings.Split(v, ",")
	}

	busConfig := notify.DefaultBusConfig()
	if v := os.Getenv("EVENT_LOG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			busConfig.LogCapacity = n
		}
	}
	if v := os.Getenv("SUBSCRIBER_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			busConfig.ChannelCapacity = n
		}
	}

	// Required settings fail fast before any connection is attempted.
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	aiConfig := ai.DefaultConfig()
	aiConfig.APIKey = os.Getenv("AI_API_KEY")
	if aiConfig.APIKey == "" {
		log.Fatal("AI_API_KEY must be set")
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		aiConfig.BaseURL = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		aiConfig.Model = v
	}

	tokenTTL := auth.DefaultTokenTTL
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			tokenTTL = d
		}
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "postgres://localhost:5432/parla?sslmode=disable"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// --- Postgres ---
	db, err := storage.Open(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	sessionTTL := tokenTTL
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sessionTTL = d
		}
	}
	sessionStore, err := session.NewStore(redisAddr, sessionTTL)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer sessionStore.Close()

	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- Domain services ---
	tokens, err := auth.NewManager(jwtSecret, tokenTTL)
	if err != nil {
		log.Fatalf("failed to create token manager: %v", err)
	}

	aiClient, err := ai.NewClient(aiConfig)
	if err != nil {
		log.Fatalf("failed to create AI client: %v", err)
	}

	// The bus is the single process-wide instance; everything that publishes
	// or subscribes receives this reference.
	bus := notify.NewBus(busConfig)

	chatStore := chat.NewStore(db)
	chatService := chat.NewService(chatStore, aiClient, bus)

	server := httpapi.NewServer(apiConfig, bus, chatService, tokens, sessionStore, limiter)

	log.Printf("Parla chat backend starting")
	log.Printf("  listen_addr:        %s", apiConfig.ListenAddr)
	log.Printf("  heartbeat_interval: %s", apiConfig.HeartbeatInterval)
	log.Printf("  event_log_capacity: %d", busConfig.LogCapacity)
	log.Printf("  subscriber_queue:   %d", busConfig.ChannelCapacity)
	log.Printf("  redis_addr:         %s", redisAddr)
	log.Printf("  ai_base_url:        %s", aiConfig.BaseURL)
	log.Printf("  ai_model:           %s", aiConfig.Model)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
