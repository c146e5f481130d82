package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/graphsmith-backend/internal/chunker"
	"github.com/yungbote/graphsmith-backend/internal/embed"
	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/graphstore"
	httpx "github.com/yungbote/graphsmith-backend/internal/http"
	httpH "github.com/yungbote/graphsmith-backend/internal/http/handlers"
	"github.com/yungbote/graphsmith-backend/internal/loader"
	"github.com/yungbote/graphsmith-backend/internal/orchestrator"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/platform/neo4jdb"
	"github.com/yungbote/graphsmith-backend/internal/platform/observability"
	"github.com/yungbote/graphsmith-backend/internal/platform/redisdb"
	"github.com/yungbote/graphsmith-backend/internal/platform/relationaldb"
	"github.com/yungbote/graphsmith-backend/internal/postprocess"
	"github.com/yungbote/graphsmith-backend/internal/repos"
	"github.com/yungbote/graphsmith-backend/internal/schema"
	"github.com/yungbote/graphsmith-backend/internal/sse"
	"github.com/yungbote/graphsmith-backend/internal/status"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router *gin.Engine

	Store *graphstore.Store
	Orch  *orchestrator.Orchestrator
	Hub   *sse.Hub
	Bus   status.Bus

	neo4j        *neo4jdb.Client
	server       *http.Server
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// postAdapter narrows the post-processing engine to the single-document
// trigger the orchestrator fires after completion.
type postAdapter struct {
	engine *postprocess.Engine
}

func (p postAdapter) Run(ctx context.Context, documentID string) error {
	_, err := p.engine.Run(ctx, documentID)
	return err
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	otelShutdown := observability.InitTracing(ctx, log, observability.Config{
		ServiceName: "graphsmith",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}

	embedDim := 0
	var embedder embed.Embedder
	if cfg.EmbeddingEnabled {
		embedder, err = embed.New(embed.Config{
			Provider:  cfg.EmbeddingProvider,
			Model:     cfg.EmbeddingModel,
			BaseURL:   cfg.EmbeddingBaseURL,
			APIKey:    cfg.EmbeddingAPIKey,
			Dimension: cfg.EmbeddingDimension,
		}, log)
		if err != nil {
			log.Warn("embedding init failed; similarity features disabled", "error", err)
			embedder = nil
		} else {
			embedDim = embedder.Dimension()
		}
	}

	store, err := graphstore.New(neoClient, log, graphstore.Options{
		TxTimeout:          cfg.Neo4jTxTimeout,
		EmbeddingDimension: embedDim,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init graph store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		log.Sync()
		return nil, fmt.Errorf("ensure graph schema: %w", err)
	}

	splitter, err := chunker.New(chunker.Options{
		MaxTokens:     cfg.ChunkMaxTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
		Encoding:      cfg.ChunkEncoding,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init chunker: %w", err)
	}

	extractor, err := extract.New(extract.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
	}, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	presets, err := schema.LoadPresets(cfg.PresetPath)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load schema presets: %w", err)
	}

	loaders := wireLoaders(ctx, cfg, log)

	hub := sse.NewHub(log)
	bus := wireStatusBus(log)

	var runsRepo repos.ExtractionRunRepo
	if rdb, rdbErr := relationaldb.NewFromEnv(log); rdbErr != nil {
		log.Warn("relational db init failed; run ledger disabled", "error", rdbErr)
	} else if rdb != nil {
		if err := repos.AutoMigrate(rdb); err != nil {
			log.Warn("run ledger migration failed; run ledger disabled", "error", err)
		} else {
			runsRepo = repos.NewExtractionRunRepo(rdb, log)
		}
	}

	engine := postprocess.New(store, postprocess.Config{
		KNNTopK:     cfg.KNNTopK,
		KNNMinScore: cfg.KNNMinScore,
		Communities: cfg.Communities,
	}, log)

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Loaders:   loaders,
		Splitter:  splitter,
		Extractor: extractor,
		Embedder:  embedder,
		Bus:       bus,
		Runs:      runsRepo,
		Post:      postAdapter{engine: engine},
	}, orchestrator.Config{
		ChunksToCombine:   cfg.ChunksToCombine,
		MaxLLMRetries:     cfg.LLMMaxRetries,
		LLMRetryBaseDelay: cfg.LLMRetryBaseDelay,
		LLMTimeout:        cfg.LLMTimeout,
		Workers:           cfg.Workers,
		EmbedOnComplete:   embedder != nil,
	}, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	var runsHandler *httpH.RunsHandler
	if runsRepo != nil {
		runsHandler = httpH.NewRunsHandler(runsRepo, log)
	}

	router := httpx.NewRouter(httpx.RouterConfig{
		DocumentHandler:    httpH.NewDocumentHandler(store, orch, log),
		ExtractHandler:     httpH.NewExtractHandler(orch, store, presets, extractor, log),
		SchemaHandler:      httpH.NewSchemaHandler(store, presets, extractor, log),
		EventsHandler:      httpH.NewEventsHandler(hub, orch, log),
		DedupHandler:       httpH.NewDedupHandler(store, cfg.DedupThreshold, log),
		PostprocessHandler: httpH.NewPostprocessHandler(engine, log),
		RunsHandler:        runsHandler,
		HealthHandler:      httpH.NewHealthHandler(),
		Log:                log,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Router:       router,
		Store:        store,
		Orch:         orch,
		Hub:          hub,
		Bus:          bus,
		neo4j:        neoClient,
		otelShutdown: otelShutdown,
	}, nil
}

func wireLoaders(ctx context.Context, cfg Config, log *logger.Logger) *loader.Registry {
	reg := loader.NewRegistry(log)
	reg.Register(types.SourceUpload, loader.NewLocalLoader(cfg.UploadDir))
	reg.Register(types.SourceWeb, loader.NewWebLoader(cfg.SourceTimeout))
	reg.Register(types.SourceWikipedia, loader.NewWikipediaLoader(cfg.SourceTimeout))
	reg.Register(types.SourceYoutube, loader.NewYoutubeLoader(cfg.SourceTimeout, "en"))
	if gcs, err := loader.NewGCSLoader(ctx); err != nil {
		log.Warn("gcs loader unavailable", "error", err)
	} else {
		reg.Register(types.SourceGCS, gcs)
	}
	reg.Register(types.SourceS3, loader.S3Loader{})
	return reg
}

func wireStatusBus(log *logger.Logger) status.Bus {
	rdb, err := redisdb.NewFromEnv(log)
	if err != nil || rdb == nil {
		if err != nil {
			log.Warn("redis unavailable; using in-process status bus", "error", err)
		}
		return status.NewLocalBus()
	}
	bus, err := status.NewRedisBus(log, rdb)
	if err != nil {
		log.Warn("redis status bus init failed; using in-process bus", "error", err)
		return status.NewLocalBus()
	}
	return bus
}

// Start serves HTTP and forwards status bus messages into the SSE hub until
// ctx is cancelled or the server fails.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Bus.StartForwarder(ctx, func(m sse.Message) {
		a.Hub.Broadcast(m)
	}); err != nil {
		return fmt.Errorf("start status forwarder: %w", err)
	}

	a.server = &http.Server{
		Addr:              ":" + a.Cfg.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases resources in reverse dependency order. Safe to call once
// after Start returns.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Orch != nil {
		a.Orch.Close()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("status bus close failed", "error", err)
		}
	}
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if a.neo4j != nil {
		if err := a.neo4j.Close(ctx); err != nil {
			a.Log.Warn("neo4j close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
