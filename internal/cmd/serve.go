package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/byte4ever/fnhost"
	"github.com/byte4ever/fnhost/httpx"
	"github.com/byte4ever/fnhost/internal/pressure"
	"github.com/byte4ever/fnhost/sink/otelsink"
	"github.com/byte4ever/fnhost/sink/redisstats"
	"github.com/byte4ever/fnhost/sink/zapsink"
)

// serveOptions is the resolved flag and environment configuration of the
// serve command.
type serveOptions struct {
	ConfigPath      string
	Name            string
	Host            string
	Upstream        string
	RedisAddr       string
	Environment     string
	FunctionKeys    []string
	Port            int
	CPULimit        float64
	MemLimit        float64
	ShutdownTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the function host",
		Long: `Start the HTTP function host with graceful shutdown support.

SIGINT or SIGTERM stops accepting connections, waits for in-flight requests
up to --shutdown-timeout and flushes the logs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, log, readServeOptions())
		},
	}

	f := cmd.Flags()
	f.String("config", "", "host configuration file (host.json or host.yaml)")
	f.String("name", "function", "dispatcher name reported by /readyz")
	f.String("host", "0.0.0.0", "listen host")
	f.Int("port", 8080, "listen port")
	f.String("upstream", "", "base URL requests are forwarded to (required)")
	f.String("redis-addr", "", "Redis address for event counters (optional)")
	f.Float64("cpu-limit", 90, "CPU percent at which requests are throttled (0 disables)")
	f.Float64("mem-limit", 90, "memory percent at which requests are throttled (0 disables)")
	f.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	f.String("environment", "", "environment name reported by the health route")
	f.StringSlice("function-keys", nil, "keys accepted on function routes (empty disables the check)")

	_ = viper.BindPFlags(f)
	_ = viper.BindEnv("environment", EnvPrefix+"_ENVIRONMENT", "AZURE_FUNCTIONS_ENVIRONMENT")

	return cmd
}

func readServeOptions() serveOptions {
	return serveOptions{
		ConfigPath:      viper.GetString("config"),
		Name:            viper.GetString("name"),
		Host:            viper.GetString("host"),
		Port:            viper.GetInt("port"),
		Upstream:        viper.GetString("upstream"),
		RedisAddr:       viper.GetString("redis-addr"),
		CPULimit:        viper.GetFloat64("cpu-limit"),
		MemLimit:        viper.GetFloat64("mem-limit"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		Environment:     viper.GetString("environment"),
		FunctionKeys:    viper.GetStringSlice("function-keys"),
	}
}

// loadHostConfig returns the stock configuration when path is empty.
func loadHostConfig(path string) (fnhost.Config, error) {
	if path == "" {
		return fnhost.DefaultConfig(), nil
	}

	cfg, err := fnhost.LoadConfig(path)
	if err != nil {
		return fnhost.Config{}, err //nolint:wrapcheck // already prefixed
	}

	return cfg, nil
}

// serve runs the host until ctx is done.
func serve(ctx context.Context, log *zap.Logger, opts serveOptions) error {
	if opts.Upstream == "" {
		return errors.New("--upstream is required")
	}

	cfg, err := loadHostConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	fw, err := httpx.NewForwarder(opts.Upstream, &http.Client{}, nil)
	if err != nil {
		return err //nolint:wrapcheck // already prefixed
	}

	metrics, err := otelsink.New(nil, opts.Name)
	if err != nil {
		return err //nolint:wrapcheck // already prefixed
	}

	sinks := fnhost.MultiSink{zapsink.New(log), metrics}

	var stats *redisstats.Store

	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		defer func() { _ = rdb.Close() }()

		stats = redisstats.New(rdb, redisstats.WithErrorHandler(func(err error) {
			log.Warn("Event counter write failed", zap.Error(err))
		}))
		sinks = append(sinks, stats)
	}

	sensor := pressure.New(pressure.Limits{
		CPUPercent:    opts.CPULimit,
		MemoryPercent: opts.MemLimit,
	})

	reg := fnhost.NewRegistry()

	d, err := fnhost.NewDispatcher[*httpx.Request, *httpx.Response](opts.Name, fw,
		fnhost.WithConfig(cfg),
		fnhost.WithEventSink(sinks),
		fnhost.WithPressure(sensor.UnderPressure),
		fnhost.WithRegistry(reg),
	)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler: httpx.NewHandler(d, httpx.Options{
			Registry:     reg,
			FunctionKeys: opts.FunctionKeys,
			Version:      versionInfo.Version,
			Environment:  opts.Environment,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("Starting function host",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr),
		zap.String("upstream", opts.Upstream),
		zap.String("route_prefix", cfg.HTTP.RoutePrefix),
		zap.Duration("function_timeout", cfg.FunctionTimeout),
		zap.Int("max_outstanding", cfg.HTTP.MaxOutstandingRequests),
		zap.Int("max_concurrent", cfg.HTTP.MaxConcurrentRequests),
		zap.String("environment", opts.Environment),
		zap.Bool("function_keys", len(opts.FunctionKeys) > 0),
		zap.Bool("redis_stats", stats != nil))

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Run(bgCtx)
	}()

	if stats != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = stats.Run(bgCtx)
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			cancelBg()
			wg.Wait()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down function host")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)

	cancelBg()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("Function host stopped gracefully")

	return nil
}
