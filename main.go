package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/my-personal-agent/chat-service/internal/cache"
	"github.com/my-personal-agent/chat-service/internal/config"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/llm"
	"github.com/my-personal-agent/chat-service/internal/policy"
	"github.com/my-personal-agent/chat-service/internal/search"
	"github.com/my-personal-agent/chat-service/internal/session"
	"github.com/my-personal-agent/chat-service/internal/store"
	"github.com/my-personal-agent/chat-service/internal/transport/httpapi"
	"github.com/my-personal-agent/chat-service/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting chat service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Redis: %s", cfg.RedisURL)
	log.Printf("Engine URL: %s", cfg.EngineURL)

	ctx := context.Background()

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize stream cache
	streamCache, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer streamCache.Close()

	// Initialize agent engine client
	agentEngine := engine.NewRemote(cfg.EngineURL)

	// Initialize confirm policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.TitleModel, cfg.LLMTimeout)

	// Initialize search client
	searchClient := search.NewClient(cfg.SearchURL, cfg.SearchTimeout)

	// Initialize session service
	sessions := session.New(db, streamCache, agentEngine, policyEngine, llmClient, cfg)

	// Initialize handlers
	wsServer := ws.NewServer(sessions)
	apiHandler := httpapi.NewHandler(db, searchClient)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	wsServer.RegisterRoutes(e)
	apiHandler.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Chat service started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down chat service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Chat service stopped")
}
