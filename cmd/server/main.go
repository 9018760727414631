package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/chatvec/internal/api"
	"gwi.com/chatvec/internal/auth"
	"gwi.com/chatvec/internal/config"
	"gwi.com/chatvec/internal/core"
	"gwi.com/chatvec/internal/errortypes"
	"gwi.com/chatvec/internal/language"
	"gwi.com/chatvec/internal/search"
	"gwi.com/chatvec/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	ingestPath := flag.String("ingest", "", "Ingest a chat export file and exit")
	chatID := flag.String("chat", "", "Chat id for -ingest (a UUID is generated when empty)")
	chatName := flag.String("name", "", "Chat name for -ingest")
	tokenSubject := flag.String("token", "", "Print a bearer token for the given subject and exit")
	flag.Parse()

	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		errortypes.LogError(nil, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	authenticator := auth.NewAuthenticator(cfg.JWTSecret)
	if *tokenSubject != "" {
		token, err := authenticator.GenerateJWT(*tokenSubject)
		if err != nil {
			logger.Error("failed to generate token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger, authenticator, *ingestPath, *chatID, *chatName); err != nil {
		errortypes.LogError(logger, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, authenticator *auth.Authenticator, ingestPath, chatID, chatName string) error {
	ctx := context.Background()

	dbStore, err := store.Open(ctx, store.Options{
		Driver:    cfg.DatabaseDriver,
		Path:      cfg.DatabaseURL,
		Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		return err
	}
	defer dbStore.Close()

	embedder, err := language.NewEmbedder(ctx, language.EmbedderOptions{
		Provider:      cfg.EmbeddingProvider,
		Dimension:     cfg.EmbeddingDimension,
		Model:         cfg.EmbeddingModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
	})
	if err != nil {
		return err
	}
	model := language.NewService(embedder)
	defer model.Close()

	searcher, err := search.New(cfg.SearchBackend, dbStore, logger)
	if err != nil {
		return err
	}

	chatService := core.NewChatService(dbStore, searcher, model, cfg.ClusterCount, logger)

	if ingestPath != "" {
		return ingestFile(ctx, logger, chatService, ingestPath, chatID, chatName)
	}

	apiHandler := api.NewAPIHandler(chatService, authenticator, cfg.MaxUploadBytes, logger)
	router := api.NewRouter(apiHandler, cfg.CORSOrigins)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // remote embedding calls can take time
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", serverAddr,
			"driver", cfg.DatabaseDriver, "backend", cfg.SearchBackend, "provider", cfg.EmbeddingProvider,
			"auth", authenticator.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-quit:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting gracefully")
	return nil
}

func ingestFile(ctx context.Context, logger *slog.Logger, cs *core.ChatService, path, chatID, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return errortypes.ValidationError(err, "failed to open chat export")
	}
	defer f.Close()

	logger.Info("starting chat ingestion", "file", path)
	res, err := cs.IngestExport(ctx, chatID, name, f)
	if err != nil {
		return err
	}
	logger.Info("chat ingestion complete", "chat_id", res.ChatID, "messages", res.MessageCount)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
