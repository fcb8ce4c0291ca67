// Command stepupd serves the step-up verification engine over HTTP.
//
// Endpoints:
//
//	POST /v1/triggers                       assess an action
//	POST /v1/challenges                     assess an action and issue a challenge
//	POST /v1/challenges/{nonce}/responses   answer a challenge
//	POST /v1/sessions                       assess an action and start a session
//	POST /v1/sessions/{id}/steps            submit one session step
//	GET  /v1/stepup/claims                  echo the claims of a valid step-up token
//	GET  /metrics                           Prometheus exposition
//	GET  /healthz
//
// Run against an in-process Redis with seed fixtures:
//
//	go run ./cmd/stepupd -dev -seeds ./cmd/stepupd/testdata/seeds.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type options struct {
	addr       string
	configPath string
	envPath    string
	seedsPath  string
	redisAddr  string
	dev        bool
	rps        float64
	burst      int
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("stepupd", flag.ContinueOnError)
	fs.StringVar(&o.addr, "addr", ":8080", "listen address")
	fs.StringVar(&o.configPath, "config", "stepupd.yaml", "config file (yaml, toml or json)")
	fs.StringVar(&o.envPath, "env", ".env", "dotenv file loaded before the config")
	fs.StringVar(&o.seedsPath, "seeds", "", "YAML baseline and profile fixtures")
	fs.StringVar(&o.redisAddr, "redis", "", "redis address; empty uses in-memory stores")
	fs.BoolVar(&o.dev, "dev", false, "run an in-process redis")
	fs.Float64Var(&o.rps, "rps", 20, "requests per second allowed per client IP")
	fs.IntVar(&o.burst, "burst", 40, "burst size per client IP")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(opts.envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", opts.envPath, err)
		os.Exit(1)
	}
	if opts.redisAddr == "" {
		opts.redisAddr = os.Getenv("STEPUP_REDIS_ADDR")
	}

	logger := newLogger(opts.logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("stepupd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := stepup.LoadConfigFile(opts.configPath)
	if err != nil {
		return err
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return fmt.Errorf("argon2: %w", err)
	}
	seeds, err := loadSeeds(opts.seedsPath, hasher)
	if err != nil {
		return err
	}

	builder := stepup.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithBaselineStore(seeds.baselines).
		WithProfileStore(seeds.profiles).
		WithPasswordVerifier(hasher)

	rdb, cleanup, err := openRedis(opts)
	if err != nil {
		return err
	}
	defer cleanup()
	if rdb != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	limiter := newThrottle(opts.rps, opts.burst)
	go pruneLoop(ctx, limiter, time.Minute)

	srv := &server{engine: engine, logger: logger}
	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.routes(limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stepupd listening",
			slog.String("addr", opts.addr),
			slog.Bool("redis", rdb != nil),
			slog.Bool("tokens", cfg.Token.Enabled),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openRedis returns nil when neither -dev nor a redis address is set.
func openRedis(opts options) (redis.UniversalClient, func(), error) {
	switch {
	case opts.dev:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("miniredis: %w", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	case opts.redisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		return rdb, func() { _ = rdb.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func pruneLoop(ctx context.Context, t *throttle, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.prune()
		}
	}
}
