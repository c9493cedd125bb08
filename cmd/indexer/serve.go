package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/journal"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/resilience"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve [roots...]",
	Short: "Watch roots and serve lookups",
	Long: `Start the indexer. Roots from the config file and from the command
line are watched; their files are indexed on the first tick.

Examples:
  indexer serve ~/notes
  indexer serve --config configs/indexer.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.Watch.Roots = append(cfg.Watch.Roots, args...)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("main")
	log.Info("starting indexer",
		"port", cfg.Server.Port,
		"roots", cfg.Watch.Roots,
		"lexer", cfg.Tokenizer.Lexer,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		metricsServer, err := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	checker := health.NewChecker()
	opts := []indexer.Option{indexer.WithMetrics(m)}

	var sinks journal.MultiSink
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		breaker := resilience.NewCircuitBreaker("journal-kafka", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		})
		sinks = append(sinks, journal.NewKafkaSink(producer, breaker))
		checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
			if st := breaker.GetState(); st != resilience.StateClosed {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + st.String()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
		log.Info("kafka journal enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topics.ReconcileEvents)
	}
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			log.Warn("postgres unavailable, journal table disabled", "error", err)
		} else {
			defer pg.Close()
			sink := journal.NewPostgresSink(pg)
			if err := sink.EnsureSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, sink)
			checker.Register("postgres", health.PingCheck(pg.Ping, true))
			log.Info("postgres journal enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		}
	}

	// The collector outlives the engine so the last tick's events are written.
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	var collector *journal.BatchCollector
	if len(sinks) > 0 {
		var sink journal.Sink = sinks
		if len(sinks) == 1 {
			sink = sinks[0]
		}
		collector = journal.NewBatchCollector(sink, cfg.Journal, m)
		collector.Start(collectorCtx)
		opts = append(opts, indexer.WithObserver(collector.Observe))
	}
	defer func() {
		stopCollector()
		if collector != nil {
			collector.Close()
		}
	}()

	var lookupCache *cache.LookupCache
	if cfg.Redis.Enabled {
		rdb, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, lookup caching disabled", "error", err)
		} else {
			defer rdb.Close()
			lookupCache = cache.New(rdb, cfg.Redis.CacheTTL)
			checker.Register("redis", health.PingCheck(rdb.Ping, true))
			log.Info("lookup cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	engine, err := indexer.NewEngine(*cfg, opts...)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		log.Warn("some roots could not be registered", "error", err)
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			log.Error("engine stop error", "error", err)
		}
	}()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		st := engine.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d roots, %d files, %d pending", st.Roots, st.Files, st.Pending),
		}
	})

	h := handler.New(engine, lookupCache, m)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewClientLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst))(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("indexer listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("indexer stopped")
	return nil
}
