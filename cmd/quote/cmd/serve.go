package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/internal/httpapi"
	"quote-engine/internal/session"
	redisstorage "quote-engine/internal/storage/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quote HTTP API",
	Long: `Run the quote HTTP API. Calculations are offloaded according to
OFFLOAD_MODE (off, local, amqp) and fall back to in-process pricing whenever
the offload path is unavailable or slow. Sessions are kept in Redis when
REDIS_ADDR is set, otherwise in memory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveIdle time.Duration

func init() {
	serveCmd.Flags().DurationVar(&serveIdle, "session-idle", 30*time.Minute, "Evict in-memory sessions unused for this long")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	table, evaluator, err := b.pricingSetup(ctx)
	if err != nil {
		return err
	}

	executor, closeExecutor, err := newExecutor(table)
	if err != nil {
		return err
	}
	defer closeExecutor()
	dispatcher := dispatch.New(table, executor, cfg.Offload.Timeout, log)

	var snapshots session.SnapshotStorage
	opts := httpapi.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}
	if b.redis != nil {
		snapshots = redisstorage.New(b.redis.Raw(), cfg.Redis.SessionTTL)
		opts.Limiter = b.redis
		opts.Limit = cfg.Redis.RateLimit
		opts.Window = cfg.Redis.RateWindow
	}
	sessions := session.New(snapshots, table, evaluator, serveIdle, log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(dispatcher, evaluator, sessions, opts, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("offload_mode", cfg.Offload.Mode),
			zap.Bool("offload_supported", dispatcher.OffloadSupported()),
			zap.Bool("persistent_sessions", snapshots != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server stopped with error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("Server shutdown gracefully")
	return nil
}
