package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Keksclan/optionscache"
	"github.com/Keksclan/optionscache/config"
	"github.com/Keksclan/optionscache/logging"
	"github.com/Keksclan/optionscache/metrics"
	"github.com/Keksclan/optionscache/provider"
	"github.com/Keksclan/optionscache/ratelimit"
	"github.com/Keksclan/optionscache/rpc"
	"github.com/Keksclan/optionscache/server"
	"github.com/Keksclan/optionscache/snapshot"
	"github.com/Keksclan/optionscache/store"
	"github.com/Keksclan/optionscache/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		grpcAddr    string
		metricsAddr string
		backend     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server and the refresh scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("store") {
				cfg.StoreBackend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":8080", "gRPC listen address (overrides GRPC_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus listen address, empty to disable (overrides METRICS_ADDR)")
	cmd.Flags().StringVar(&backend, "store", "redis", "store backend: redis or memory (overrides STORE_BACKEND)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var tcfg *tracing.Config
	if cfg.TracingStdout {
		var shutdown func(context.Context) error
		tcfg, shutdown, err = tracing.Setup(os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	codec, err := snapshot.CodecByName(cfg.StoreCodec)
	if err != nil {
		return err
	}
	st, err := store.Dial(ctx, store.DialConfig{
		Kind:       cfg.StoreBackend,
		Addr:       cfg.StoreAddr(),
		Password:   cfg.StorePassword,
		DB:         cfg.StoreDBIndex,
		MaxEntries: cfg.StoreMaxEntries,
		Codec:      codec,
		Attempts:   cfg.StoreConnectAttempts,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []optionscache.Option{
		optionscache.WithInitialTTL(cfg.InitialTTL),
		optionscache.WithLogger(logger),
		optionscache.WithMetrics(m),
	}
	if tcfg != nil {
		opts = append(opts, optionscache.WithTracerProvider(tcfg.TracerProvider))
	}
	if cfg.RefreshCoalescing {
		opts = append(opts, optionscache.WithRefreshCoalescing())
	}

	refresher := optionscache.NewRefresher(st, st, newProvider(cfg, logger, m), opts...)
	svc := optionscache.NewService(st, refresher, opts...)
	sched := optionscache.NewScheduler(st, refresher, opts...)

	srvOpts := []server.Option{
		server.WithRecovery(logger),
		server.WithRequestID(),
		server.WithLogging(logger),
		server.WithRateLimit(cfg.GRPCRateLimitRPS, cfg.GRPCRateLimitBurst),
	}
	if tcfg != nil {
		srvOpts = append(srvOpts, server.WithTracing(tcfg))
	}
	srv := server.NewServer(srvOpts...)
	rpc.Register(srv.GRPC(), rpc.NewHandler(svc, logger))
	srv.SetServing(rpc.ServiceName, true)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", "addr", lis.Addr().String(), "middlewares", srv.Middlewares())
		return srv.Serve(ctx, lis)
	})
	if cfg.MetricsAddr != "" {
		hs := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err = g.Wait()
	logger.Info("shut down")
	return err
}

// newProvider builds the HTTP provider with the configured pacing and
// circuit breaker. Requests carry no timeout of their own.
func newProvider(cfg *config.Config, logger *slog.Logger, m *metrics.Collectors) provider.DataProvider {
	var p provider.DataProvider = provider.NewHTTP(cfg.ProviderURL, nil)
	if cfg.ProviderRPS > 0 {
		p = provider.RateLimited(p, ratelimit.NewLimiter(cfg.ProviderRPS, cfg.ProviderBurst))
	}
	if cfg.ProviderBreakerThreshold > 0 {
		p = provider.NewGuarded(p, provider.BreakerConfig{
			FailureThreshold: cfg.ProviderBreakerThreshold,
			Cooldown:         cfg.ProviderBreakerCooldown,
			OnStateChange: func(from, to provider.State) {
				logger.Warn("provider circuit changed", "from", from.String(), "to", to.String())
				m.SetBreakerState(int(to))
			},
		})
	}
	return p
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", server.MetricsHandler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
