package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/banshee-data/demetra.report/internal/api"
	"github.com/banshee-data/demetra.report/internal/config"
	"github.com/banshee-data/demetra.report/internal/jobs"
	"github.com/banshee-data/demetra.report/internal/mathops"
	"github.com/banshee-data/demetra.report/internal/objstore"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/timeutil"
	"github.com/banshee-data/demetra.report/internal/viz"
)

const (
	shutdownTimeout = 5 * time.Second
	purgeInterval   = 10 * time.Minute
	jobQueueSize    = 100
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC math service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("grpc-listen", ":50051", "gRPC listen address")
	cmd.Flags().String("db-path", "demetra.db", "Path to the sqlite database")
	cmd.Flags().String("data-dir", "./data", "Root directory of the fs object store")
	cmd.Flags().String("plot-dir", "/tmp/plots", "Directory rendered plots are written to")
	cmd.Flags().Int("workers", 4, "Background processing workers")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

// applyServeFlags copies the flags the user set over the config values.
func applyServeFlags(cmd *cobra.Command, cfg *config.ServiceConfig) error {
	flags := cmd.Flags()
	for name, dst := range map[string]**string{
		"listen":      &cfg.Listen,
		"grpc-listen": &cfg.GRPCListen,
		"db-path":     &cfg.DBPath,
		"data-dir":    &cfg.DataDir,
		"plot-dir":    &cfg.PlotDir,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = &v
	}
	if flags.Changed("workers") {
		n, err := flags.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = &n
	}
	return nil
}

// limitsFrom maps the service config onto the API limits.
func limitsFrom(cfg *config.ServiceConfig) api.Limits {
	return api.Limits{
		MaxSeriesLength:     cfg.GetMaxSeriesLength(),
		MaxForecastHorizon:  cfg.GetMaxForecastHorizon(),
		MaxArimaOrder:       cfg.GetMaxArimaOrder(),
		TramoSeatsMaxLength: cfg.GetTramoSeatsMaxLength(),
		MaxFileSize:         cfg.GetMaxFileSize(),
		MaxSeriesPerFile:    cfg.GetMaxSeriesPerFile(),
		SeriesCacheTTL:      cfg.GetCacheTTL(),
		ModelTTL:            cfg.GetModelCacheTTL(),
		ResultTTL:           cfg.GetResultTTL(),
	}
}

func serve(ctx context.Context, cfg *config.ServiceConfig) error {
	st, err := store.NewStore(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	objects, err := objstore.Open(ctx, objstore.Config{
		Backend:   cfg.GetObjectStore(),
		Root:      cfg.GetDataDir(),
		Endpoint:  cfg.GetMinioEndpoint(),
		AccessKey: cfg.GetMinioAccessKey(),
		SecretKey: cfg.GetMinioSecretKey(),
		Bucket:    cfg.GetMinioBucket(),
		Secure:    cfg.GetMinioSecure(),
	})
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	plots, err := viz.NewRenderer(viz.Options{
		Dir:             cfg.GetPlotDir(),
		CacheSize:       cfg.GetPlotCacheSize(),
		CacheTTL:        cfg.GetCacheTTL(),
		MaxSeriesLength: cfg.GetVizMaxSeriesLength(),
	})
	if err != nil {
		return fmt.Errorf("failed to create plot renderer: %w", err)
	}

	pool := jobs.NewPool(st, cfg.GetWorkers(), jobQueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	srv := api.NewServer(st, objects, plots, pool, limitsFrom(cfg))
	mux := srv.ServeMux()
	if err := st.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("failed to attach admin routes: %w", err)
	}

	httpLn, err := net.Listen("tcp", cfg.GetListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GetListen(), err)
	}
	grpcLn, err := net.Listen("tcp", cfg.GetGRPCListen())
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.GetGRPCListen(), err)
	}

	logger.Info("starting servers",
		zap.String("http", httpLn.Addr().String()),
		zap.String("grpc", grpcLn.Addr().String()),
		zap.String("db", cfg.GetDBPath()),
		zap.String("object_store", cfg.GetObjectStore()))

	return run(ctx, httpLn, grpcLn, api.LoggingMiddleware(mux), srv.PurgeExpired, st.Clock())
}

// run serves HTTP and gRPC on the given listeners until ctx is cancelled,
// calling purge on every tick of clock's purge interval. It returns nil
// after a clean shutdown.
func run(ctx context.Context, httpLn, grpcLn net.Listener, h http.Handler, purge func() (int64, error), clock timeutil.Clock) error {
	srv := &http.Server{Handler: h}
	grpcSrv := mathops.NewGRPCServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		logger.Info("HTTP server routine stopped")
		return nil
	})

	g.Go(func() error {
		if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		logger.Info("gRPC server routine stopped")
		return nil
	})

	g.Go(func() error {
		ticker := clock.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C():
				n, err := purge()
				if err != nil {
					logger.Warn("purge of expired records failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("purged expired records", zap.Int64("count", n))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", zap.Error(err))
			if err := srv.Close(); err != nil {
				logger.Warn("HTTP server close error", zap.Error(err))
			}
		}
		logger.Info("shutting down gRPC server...")
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Graceful shutdown complete")
	return nil
}
