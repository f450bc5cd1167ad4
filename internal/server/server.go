package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/physical-ai/textbook-rag/config"
	"github.com/physical-ai/textbook-rag/internal/composer"
	"github.com/physical-ai/textbook-rag/internal/orchestrator"
	"github.com/physical-ai/textbook-rag/internal/retriever"
	"github.com/physical-ai/textbook-rag/internal/telemetry"
	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/internal/vectorstore/memory"
	"github.com/physical-ai/textbook-rag/internal/vectorstore/pgvector"
	"github.com/physical-ai/textbook-rag/internal/vectorstore/qdrant"
	openai_provider "github.com/physical-ai/textbook-rag/provider/openai"
	"github.com/physical-ai/textbook-rag/session"
	"github.com/physical-ai/textbook-rag/session/inmemory"
	postgres_session "github.com/physical-ai/textbook-rag/session/postgres"
	redis_session "github.com/physical-ai/textbook-rag/session/redis"
)

// Run wires the service together from config and serves HTTP until the
// context is cancelled or the listener fails.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"status": "error", "error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"service": "textbook-rag", "status": "running"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	store, err := OpenVectorStore(ctx, cfg)
	if err != nil {
		return err
	}

	llm := openai_provider.NewClient(openai_provider.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Dimensions:     cfg.LLM.EmbeddingDimensions,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        cfg.LLM.Timeout,
		MaxRetries:     cfg.LLM.MaxRetries,
	})

	var keywords *retriever.KeywordIndex
	if cfg.Retrieval.Hybrid || cfg.Retrieval.KeywordFallback {
		chunks, err := store.List(ctx)
		if err != nil {
			log.Printf("keyword index disabled, listing chunks failed: %v", err)
		} else {
			keywords, err = retriever.BuildKeywordIndex(chunks)
			if err != nil {
				return fmt.Errorf("building keyword index: %w", err)
			}
			log.Printf("keyword index ready with %d chunks", keywords.Size())
		}
	}

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	ret := retriever.New(llm, store, keywords, retriever.Options{
		TopK:     cfg.Retrieval.TopK,
		MinScore: cfg.Retrieval.MinScore,
		Hybrid:   cfg.Retrieval.Hybrid,
	})
	orch := orchestrator.New(sessions, ret, composer.New(llm), metrics)

	ch := &ChatHandler{Orchestrator: orch, Metrics: metrics}
	ch.Register(e.Group(""))

	if addr == "" {
		addr = cfg.General.Listen
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// OpenVectorStore builds the configured vector store backend. Qdrant gets
// its collection created on first use; pgvector relies on migrations.
func OpenVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.Storage.VectorStore {
	case "qdrant":
		st := qdrant.New(qdrant.Config{
			URL:        cfg.Storage.Qdrant.URL,
			APIKey:     cfg.Storage.Qdrant.APIKey,
			Collection: cfg.Storage.Qdrant.Collection,
			Dimensions: cfg.LLM.EmbeddingDimensions,
			Timeout:    cfg.Storage.Qdrant.Timeout,
		})
		if err := st.Init(ctx); err != nil {
			return nil, fmt.Errorf("initializing qdrant collection: %w", err)
		}
		return st, nil
	case "pgvector":
		return pgvector.Open(ctx, cfg.Storage.Postgres.DSN())
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.Storage.VectorStore)
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	opts := session.Normalize(session.Options{
		MaxTurns: cfg.Session.MaxTurns,
		TTL:      cfg.Session.TTL,
	})
	switch cfg.Session.Backend {
	case "inmemory":
		st := inmemory.New(opts)
		go st.Janitor(ctx, opts.TTL)
		return st, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		return redis_session.New(rdb, opts), nil
	case "postgres":
		pg, err := pgvector.Open(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return postgres_session.New(pg.DB, opts), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}
