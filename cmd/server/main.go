package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relay-backend/internal/config"
	"relay-backend/internal/conversation"
	"relay-backend/internal/database"
	"relay-backend/internal/handlers"
	"relay-backend/internal/logger"
	"relay-backend/internal/middleware"
	"relay-backend/internal/relay"
	"relay-backend/internal/router"
	"relay-backend/internal/services"
	"relay-backend/internal/websocket"
	"relay-backend/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	log := logger.New(cfg.IsDevelopment())
	defer log.Sync()
	log.Info("starting relay backend", zap.String("env", cfg.Env))

	scope, err := conversation.ParseScope(cfg.ContextScope)
	if err != nil {
		return err
	}

	// ──── Step 2: Initialize Gemini Client ────
	geminiService, err := services.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs, log)
	if err != nil {
		return fmt.Errorf("gemini client initialization failed: %w", err)
	}
	defer geminiService.Close()
	log.Info("gemini client initialized", zap.String("model", services.GeminiModel))

	// ──── Step 3: Optional Redis for cross-instance delivery ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisClient.Close()
		log.Info("redis connected, session events go through pub/sub")
	}

	// ──── Step 4: Conversation store and relay ────
	store := conversation.NewStore(scope, cfg.HistoryMaxTurns)
	manager := relay.NewManager(store, geminiService, cfg.AITimeout, log)
	log.Info("relay ready",
		zap.String("scope", string(scope)),
		zap.Int("history_max_turns", cfg.HistoryMaxTurns),
		zap.Duration("ai_timeout", cfg.AITimeout),
	)

	sessionTokens, err := middleware.NewSessionTokens(cfg.SessionSecret, cfg.SessionTokenTTL)
	if err != nil {
		return err
	}
	if cfg.SessionSecret == "" {
		log.Warn("SESSION_SECRET not set, resume tokens will not survive a restart")
	}

	// ──── Step 5: Prompt Worker Pool ────
	pool := worker.NewPool(cfg.PromptQueueSize, log)

	// ──── Step 6: WebSocket Hub and HTTP Server ────
	wsHub := websocket.NewHub(manager, pool, sessionTokens, redisClient, cfg.ClientURL, log)
	sessionHandler := handlers.NewSessionHandler(manager, wsHub, store, string(scope))
	r := router.New(sessionTokens, sessionHandler, wsHub, cfg.ClientURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store.RunJanitor(gctx, time.Minute, cfg.SessionIdleTTL, log)
		return nil
	})

	g.Go(func() error {
		log.Info("relay backend ready",
			zap.String("http", "http://localhost:"+cfg.Port),
			zap.String("ws", "ws://localhost:"+cfg.Port+"/api/v1/ws"),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		wsHub.Close()
		pool.Stop()
		return err
	})

	return g.Wait()
}
