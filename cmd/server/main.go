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

	"gwi.com/calendar-assistant/internal/api"
	"gwi.com/calendar-assistant/internal/assistant"
	"gwi.com/calendar-assistant/internal/auth"
	"gwi.com/calendar-assistant/internal/calendar"
	"gwi.com/calendar-assistant/internal/config"
	"gwi.com/calendar-assistant/internal/core"
	"gwi.com/calendar-assistant/internal/intent"
	"gwi.com/calendar-assistant/internal/llm"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/rag"
	"gwi.com/calendar-assistant/internal/store"
	"gwi.com/calendar-assistant/internal/timeparse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	ctx := context.Background()

	dbStore, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.EmbeddingDimensions)
	if err != nil {
		logg.Fatal("failed to initialize database", "driver", cfg.DBDriver, "error", err)
	}
	defer dbStore.Close()

	model, err := llm.New(ctx, cfg)
	if err != nil {
		logg.Fatal("failed to initialize language model client", "provider", cfg.LLMProvider, "error", err)
	}
	defer model.Close()

	var tokenCache calendar.TokenCache = calendar.NewMemoryCache()
	if cfg.RedisURL != "" {
		redisClient, err := calendar.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logg.Fatal("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		tokenCache = calendar.NewRedisCache(redisClient)
		logg.Info("using redis token cache")
	}

	loc := cfg.Location()
	provider := calendar.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CalendarRedirectURL())
	oauthManager := calendar.NewManager(provider, dbStore, tokenCache, logg, cfg.ExternalTimeout,
		calendar.WithStateKey(cfg.JWTSecret))
	gateway := calendar.NewGateway(oauthManager, cfg.ExternalTimeout, calendar.WithLocation(loc))
	parser := timeparse.New(loc)

	registry, err := assistant.NewRegistry(assistant.DefaultFunctions(gateway, parser)...)
	if err != nil {
		logg.Fatal("failed to build function registry", "error", err)
	}
	dispatcher := assistant.NewDispatcher(model, registry, oauthManager, logg, loc)
	retriever := rag.NewRetriever(model, dbStore, cfg.RAG, logg)

	chatService := core.NewChatService(dbStore, intent.NewRouter(nil), dispatcher, retriever,
		core.NewResponseEngine(model), model, logg)

	apiHandler := api.NewAPIHandler(api.Deps{
		Users:       dbStore,
		Chats:       chatService,
		Issuer:      auth.NewIssuer(cfg.JWTSecret),
		Connections: oauthManager,
		Events:      gateway,
		Parser:      parser,
		FrontendURL: cfg.FrontendURL,
		Log:         logg,
	})
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // model and calendar calls can take time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logg.Info("starting server", "addr", serverAddr, "env", cfg.AppEnv, "provider", cfg.LLMProvider, "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("could not listen", "addr", serverAddr, "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", "error", err)
	}
	chatService.Wait()
	logg.Info("server exited gracefully")
}
