package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	loom "github.com/nevindra/loom"
	"github.com/nevindra/loom/agents"
	"github.com/nevindra/loom/imagegen"
	"github.com/nevindra/loom/ingest"
	"github.com/nevindra/loom/internal/config"
	"github.com/nevindra/loom/internal/server"
	"github.com/nevindra/loom/observer"
	"github.com/nevindra/loom/provider/resolve"
	"github.com/nevindra/loom/store/file"
	"github.com/nevindra/loom/store/postgres"
	"github.com/nevindra/loom/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("LOOM_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create providers
	chat, err := resolve.Provider(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.LargeModel,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		log.Fatal(err)
	}
	chat = loom.WithRetry(chat, loom.RetryLogger(logger))

	embed, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		log.Fatal(err)
	}
	embed = loom.WithEmbeddingRetry(embed, loom.RetryLogger(logger))

	// 3. Create embedding store
	var store loom.EmbeddingStore
	switch {
	case cfg.Storage.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		pg := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		if err := pg.Init(ctx); err != nil {
			log.Fatal(err)
		}
		store = pg
	case cfg.Storage.SQLitePath != "":
		db := sqlite.New(cfg.Storage.SQLitePath, sqlite.WithLogger(logger))
		if err := db.Init(ctx); err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		store = db
	default:
		store = file.New(cfg.Storage.CacheDir, file.WithLogger(logger))
	}

	// 4. Sync knowledge bases
	corpora := []string{"legal", "audit"}
	syncer := loom.NewSyncer(store, embed, cfg.Embedding.Model, loom.SyncLogger(logger))
	for _, corpus := range corpora {
		docs, err := ingest.LoadDir(filepath.Join(cfg.Corpus.DocumentsDir, corpus), logger)
		if err != nil {
			logger.Warn("loading corpus failed", "corpus", corpus, "error", err)
			continue
		}
		if _, err := syncer.Sync(ctx, corpus, docs); err != nil {
			logger.Warn("corpus sync failed", "corpus", corpus, "error", err)
		}
	}

	// 5. Retrieval and image generation
	retriever := loom.NewRetriever(chat, embed, store, cfg.LLM.SmallModel,
		loom.RetrieverLogger(logger))

	var images imagegen.Generator
	if cfg.Image.APIKey != "" {
		switch cfg.Image.Provider {
		case "gemini", "nano-banana":
			images = imagegen.NewGemini(cfg.Image.APIKey, imagegen.GeminiModel(cfg.Image.Model))
		default:
			dalleBase := "https://api.openai.com/v1"
			if cfg.LLM.Provider == "openai" && cfg.LLM.BaseURL != "" {
				dalleBase = cfg.LLM.BaseURL
			}
			images = imagegen.NewDALLE(dalleBase, cfg.Image.APIKey, imagegen.DALLEModel(cfg.Image.Model))
		}
	}

	// 6. Register agents
	reg := loom.NewRegistry()
	agents.RegisterAll(reg, agents.Deps{
		Chat:      chat,
		Models:    cfg.Models(),
		Retriever: retriever,
		Images:    images,
		Corpus:    cfg.Corpus.Default,
		Logger:    logger,
	})

	// 7. Observability (optional)
	var tracer loom.Tracer
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			logger.Warn("observer init failed, continuing without telemetry", "error", err)
		} else {
			defer shutdown(context.Background())
			observer.Instrument(reg, inst)
			tracer = observer.NewTracer()
		}
	}

	// 8. Engine + HTTP server
	engineOpts := []loom.EngineOption{
		loom.WithLogger(logger),
		loom.WithUploadDecoder(ingest.Extract),
	}
	if tracer != nil {
		engineOpts = append(engineOpts, loom.WithTracer(tracer))
	}
	engine := loom.NewEngine(reg, cfg.Models(), engineOpts...)

	srv := server.New(server.Deps{
		Engine:       engine,
		Store:        store,
		DocumentsDir: cfg.Corpus.DocumentsDir,
		Corpora:      corpora,
		Active:       cfg.Corpus.Default,
		Info: server.Info{
			Provider:       cfg.LLM.Provider,
			SmallModel:     cfg.LLM.SmallModel,
			LargeModel:     cfg.LLM.LargeModel,
			EmbeddingModel: cfg.Embedding.Model,
			ImageProvider:  cfg.Image.Provider,
		},
		Logger: logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Run(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
