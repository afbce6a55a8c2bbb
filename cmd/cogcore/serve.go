package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent/artifact"
	"github.com/Samrat2803/cognitive-core/internal/agent/graph"
	"github.com/Samrat2803/cognitive-core/internal/agent/subagent"
	"github.com/Samrat2803/cognitive-core/internal/blob"
	"github.com/Samrat2803/cognitive-core/internal/server"
	"github.com/Samrat2803/cognitive-core/internal/store"
	"github.com/Samrat2803/cognitive-core/internal/stream"
	"github.com/Samrat2803/cognitive-core/internal/telemetry"
	"github.com/Samrat2803/cognitive-core/provider"
)

// blobStore is what a run needs from object storage: the generator saves,
// the API fetches.
type blobStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type runtime struct {
	cfg        *config.Config
	tel        *telemetry.Telemetry
	dispatcher *stream.Dispatcher
	engine     *graph.Engine
	history    *store.Store // nil when Postgres is not configured
	blobs      blobStore
	cleanup    func()
}

// buildRuntime assembles the full execution stack from configuration.
// requireHistory makes a missing Postgres configuration fatal; one-shot mode
// runs without it.
func buildRuntime(ctx context.Context, cfgPath string, requireHistory bool) (*runtime, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel = telemetry.New()
	}
	dispatcher := stream.NewDispatcher(cfg.Stream.BufferCapacity, cfg.Stream.SubscriberBuffer)
	dispatcher.SetTelemetry(tel)

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	var closers []func()

	var history *store.Store
	dsn, dsnErr := cfg.Storage.Postgres.DSN()
	if dsnErr == nil {
		history, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		closers = append(closers, func() { history.Close() })
	} else if requireHistory {
		return nil, fmt.Errorf("postgres not configured: %w", dsnErr)
	}

	var blobs blobStore
	if cfg.Storage.Redis.Addr != "" {
		rs, err := blob.New(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		closers = append(closers, func() { rs.Close() })
		blobs = rs
	} else {
		blobs = blob.NewMemory()
	}

	httpc := subagent.NewHTTPClient(cfg.Fetch.Timeout)
	var crawler subagent.Crawler
	if cfg.Fetch.EnableCrawler {
		crawler = subagent.NewChromedpCrawler(cfg.Fetch)
	}
	logger := log.New(log.Writer(), "[GRAPH] ", log.LstdFlags)

	pipeline := graph.NewPipeline(cfg.Engine, graph.PipelineDeps{
		Analyzer:  subagent.NewLLMAnalyzer(llm),
		Planner:   subagent.NewQueryPlanner(),
		Searchers: subagent.NewSearchers(cfg.Search, httpc),
		Extractor: subagent.NewReadabilityExtractor(cfg.Fetch, httpc),
		Crawler:   crawler,
		Sentiment: subagent.NewLLMSentimentScorer(llm),
		Citations: subagent.NewURLCitationLinker(),
		Synth:     subagent.NewLLMSynthesizer(llm),
		Artifacts: artifact.NewGenerator(blobs),
		Telemetry: tel,
		Logger:    logger,
	})

	var engineStore graph.HistoryStore
	if history != nil {
		engineStore = history
	}
	engine, err := graph.NewEngine(cfg.Engine, pipeline.Graph(), dispatcher, engineStore, tel, logger)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		tel:        tel,
		dispatcher: dispatcher,
		engine:     engine,
		history:    history,
		blobs:      blobs,
		cleanup: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}

func serveCMD() *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := buildRuntime(ctx, configPath(cmd), true)
			if err != nil {
				return err
			}
			defer rt.cleanup()
			if addr != "" {
				rt.cfg.Server.Address = addr
			}

			var history server.RunHistory
			if rt.history != nil {
				history = rt.history
			}
			srv := server.New(rt.cfg, rt.engine, rt.dispatcher, history, rt.blobs, rt.tel)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sig:
				log.Println("shutting down")
				shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return serve
}
