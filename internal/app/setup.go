package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/mubot/mu/db"
	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/config"
	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/database"
	"github.com/mubot/mu/internal/knowledge"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/observability"
	"github.com/mubot/mu/internal/persona"
	"github.com/mubot/mu/internal/provider"
	"github.com/mubot/mu/internal/tools"
)

const closeTimeout = 10 * time.Second

// Setup builds the application from configuration. On error, everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first so Genkit's TracerProvider picks up the processor.
	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.SetupTracing(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		})
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			a.addCleanup(shutdown)
		}
	}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g
	a.Embedder = provideEmbedder(g, cfg)

	if err := provideStorage(ctx, a); err != nil {
		return nil, err
	}

	registry, err := provideRegistry(a)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	resolver, err := providePersonas(a)
	if err != nil {
		return nil, err
	}

	llm, err := provider.New(provider.Config{
		Genkit:      g,
		ModelName:   cfg.FullModelName(),
		Registry:    registry,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	executor, err := tools.NewExecutor(tools.ExecutorConfig{
		Registry:      registry,
		Logger:        logger,
		MaxConcurrent: cfg.ToolParallelism,
		CallTimeout:   time.Duration(cfg.ToolTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool executor: %w", err)
	}

	engine, err := chat.NewEngine(chat.Config{
		LLM:      llm,
		Store:    a.Store,
		Personas: resolver,
		Tools:    executor,
		Logger:   logger,
		Budget:   chat.TokenBudget{MaxHistoryTokens: cfg.MaxHistoryTokens},
		Limiter:  rate.NewLimiter(10, 30),
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat engine: %w", err)
	}
	a.Engine = engine

	logger.Info("application ready",
		"provider", cfg.Provider,
		"model", cfg.FullModelName(),
		"storage", cfg.Storage,
		"tools", registry.Names(),
	)
	return a, nil
}

// provideGenkit initializes Genkit with the configured provider plugin.
// Ollama models are registered explicitly; gemini and openai discover
// theirs from the plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}

	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
	}

	logger.Debug("genkit initialized", "provider", cfg.Provider, "model", cfg.ModelName)
	return g, nil
}

// provideEmbedder looks up the embedder the provider plugin registered.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideStorage selects the conversation backend. Postgres also brings up
// migrations and the knowledge store; file and memory run without either.
func provideStorage(ctx context.Context, a *App) error {
	cfg, logger := a.Config, a.Logger

	switch cfg.Storage {
	case config.StoragePostgres:
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		pool, err := database.Connect(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return err
		}
		a.Pool = pool
		a.addCleanup(func(context.Context) error {
			pool.Close()
			return nil
		})

		store, err := conversation.NewPostgresStore(pool, logger)
		if err != nil {
			return fmt.Errorf("creating postgres store: %w", err)
		}
		a.Store = store

		if a.Embedder != nil {
			ks, err := knowledge.NewStore(pool, a.Embedder, logger)
			if err != nil {
				return fmt.Errorf("creating knowledge store: %w", err)
			}
			a.Knowledge = ks
		}

	case config.StorageFile:
		store, err := conversation.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return fmt.Errorf("creating file store: %w", err)
		}
		a.Store = store

	default:
		a.Store = conversation.NewMemoryStore()
	}
	return nil
}

// provideRegistry assembles the tool registry. The knowledge search tool is
// only available when the knowledge store exists.
func provideRegistry(a *App) (*tools.Registry, error) {
	clock, err := tools.NewCurrentTime(time.Now)
	if err != nil {
		return nil, fmt.Errorf("creating clock tool: %w", err)
	}

	web, err := tools.NewFetchWebpage(tools.NewWebGuard(), a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating web tool: %w", err)
	}

	handlers := []tools.Handler{clock, web}
	if a.Knowledge != nil {
		search, err := tools.NewKnowledgeSearch(a.Knowledge, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("creating knowledge tool: %w", err)
		}
		handlers = append(handlers, search)
	}
	return tools.NewRegistry(handlers...)
}

// providePersonas builds the persona resolver: file catalog and user
// assignments, optionally fronted by Redis when an address is configured.
func providePersonas(a *App) (*persona.Resolver, error) {
	cfg := a.Config

	static, err := persona.LoadDir(cfg.PersonaDir)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}
	assignments, err := persona.LoadAssignments(cfg.PersonaDir)
	if err != nil {
		return nil, fmt.Errorf("loading persona assignments: %w", err)
	}

	var (
		catalog persona.Catalog   = static
		prefs   persona.UserPrefs = assignments
	)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		a.addCleanup(func(context.Context) error { return rdb.Close() })

		ttl := time.Duration(cfg.PersonaCacheMins) * time.Minute
		cached, err := persona.NewCachedCatalog(rdb, static, ttl, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("creating persona cache: %w", err)
		}
		catalog = cached

		rprefs, err := persona.NewRedisPrefs(rdb, assignments, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("creating persona assignments: %w", err)
		}
		prefs = rprefs
	}

	return persona.NewResolver(persona.Config{
		Catalog:   catalog,
		Prefs:     prefs,
		DefaultID: cfg.DefaultPersona,
		Logger:    a.Logger,
	}), nil
}
