package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/joyhealth/joy/internal/chat"
	"github.com/joyhealth/joy/internal/config"
	"github.com/joyhealth/joy/internal/database"
	"github.com/joyhealth/joy/internal/log"
	"github.com/joyhealth/joy/internal/model"
	"github.com/joyhealth/joy/internal/tool"
	"github.com/joyhealth/joy/internal/turn"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Store = chat.NewStore(pool, logger)
	adapter := model.New(g, logger)

	registry, err := provideTools(cfg, logger)
	if err != nil {
		return nil, err
	}

	exporter := turn.NewExporter(cfg.Export, logger)
	a.Controller = turn.NewController(cfg, a.Store, a.Store, adapter, adapter, registry, exporter, logger)

	return a, nil
}

// provideOtelShutdown registers an OTLP trace exporter with genkit's tracer
// provider. Tracing is optional: without an endpoint this is a no-op.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	// SAFETY: os.Setenv is not concurrent-safe, but this runs exactly once
	// during startup before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes genkit with the configured AI provider.
// Supports gemini (default) and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider")

	case config.ProviderGemini, "":
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider")

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return g, nil
}

// provideTools builds the tool registry declared to the model each turn.
func provideTools(cfg *config.Config, logger log.Logger) (*tool.Registry, error) {
	weather, err := tool.NewWeather(cfg.WeatherEndpoint)
	if err != nil {
		return nil, fmt.Errorf("creating weather tool: %w", err)
	}
	createDoc, err := tool.NewCreateDocument()
	if err != nil {
		return nil, fmt.Errorf("creating createDocument tool: %w", err)
	}
	updateDoc, err := tool.NewUpdateDocument()
	if err != nil {
		return nil, fmt.Errorf("creating updateDocument tool: %w", err)
	}
	suggestions, err := tool.NewRequestSuggestions()
	if err != nil {
		return nil, fmt.Errorf("creating requestSuggestions tool: %w", err)
	}

	return tool.NewRegistry(logger, weather, createDoc, updateDoc, suggestions), nil
}
