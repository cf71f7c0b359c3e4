package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/adapters/archive"
	"github.com/clementinec/wrtvoice/adapters/llm"
	"github.com/clementinec/wrtvoice/adapters/stt"
	"github.com/clementinec/wrtvoice/domain/repositories"
	"github.com/clementinec/wrtvoice/internal/api"
	"github.com/clementinec/wrtvoice/internal/config"
	"github.com/clementinec/wrtvoice/internal/websocket"
	"github.com/clementinec/wrtvoice/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize adapters
	transcriber := buildTranscriber(logger)
	generator := buildGenerator(cfg, logger)

	transcriptArchive, err := archive.NewFileArchive(cfg.ArchiveDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transcript archive", zap.Error(err))
	}

	// Initialize session registry
	registry := usecase.NewRegistry(transcriber, generator, transcriptArchive, usecase.RegistryConfig{
		MinPhraseTimeout:     cfg.MinPhraseTimeout,
		MaxPhraseTimeout:     cfg.MaxPhraseTimeout,
		DefaultPhraseTimeout: cfg.DefaultPhraseTimeout,
		SampleRate:           cfg.SampleRate,
		Encoding:             cfg.Encoding,
		Language:             cfg.Language,
		DefaultModel:         cfg.DefaultTranscriptionModel,
		OpeningPrompt:        cfg.OpeningPrompt,
	}, logger)

	// Initialize WebSocket hub
	hub := websocket.NewHub(registry, logger)

	// Initialize API routes
	api.InitRoutes(e, hub, registry, transcriptArchive, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("generatorBackend", cfg.GeneratorBackend),
		zap.Duration("defaultPhraseTimeout", cfg.DefaultPhraseTimeout))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// buildTranscriber prefers Google Cloud Speech and falls back to the mock
// recognizer when no credentials are configured.
func buildTranscriber(logger *zap.Logger) repositories.Transcriber {
	transcriber, err := stt.NewGoogleTranscriber(context.Background())
	if err != nil {
		logger.Warn("Google Speech unavailable, using mock transcriber", zap.Error(err))
		return stt.NewMockTranscriber(logger)
	}
	return transcriber
}

// buildGenerator selects the response backend. A backend that fails to
// initialize degrades to the mock generator rather than aborting startup.
func buildGenerator(cfg *config.Config, logger *zap.Logger) repositories.Generator {
	switch cfg.GeneratorBackend {
	case config.BackendGemini:
		generator, err := llm.NewGeminiGenerator(cfg.GeminiModel, cfg.SystemPrompt, logger)
		if err != nil {
			logger.Warn("Gemini unavailable, using mock generator", zap.Error(err))
			return llm.NewMockGenerator(logger)
		}
		return generator
	case config.BackendOpenAI:
		generator, err := llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.SystemPrompt,
		}, logger)
		if err != nil {
			logger.Warn("OpenAI backend unavailable, using mock generator", zap.Error(err))
			return llm.NewMockGenerator(logger)
		}
		return generator
	default:
		return llm.NewMockGenerator(logger)
	}
}
