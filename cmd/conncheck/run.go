package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/Evantastic/distribuidos-12020-common/common/connections"
	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	libZap "github.com/Evantastic/distribuidos-12020-common/common/zap"
	"github.com/urfave/cli/v2"
)

// errBackendsDown is returned when at least one backend failed its check.
var errBackendsDown = errors.New("one or more backends are unreachable")

func run(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := os.Setenv(constant.EnvFile, path); err != nil {
			return fmt.Errorf("failed to set %s: %w", constant.EnvFile, err)
		}
	}

	backends, err := connections.ParseBackends(c.String("backend"))
	if err != nil {
		return err
	}

	cfg, err := connections.LoadConfig(backends...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Log = withLogLevel(cfg.Log, c.String("log-level"))

	logger, err := libZap.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync(context.Background()) //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := libOpentelemetry.NewTelemetry(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Log(context.Background(), log.LevelWarn, "telemetry shutdown failed", log.Err(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()

	conns, err := connections.New(cfg, connections.WithLogger(logger))
	if err != nil {
		return err
	}

	defer func() {
		if err := conns.Close(context.Background()); err != nil {
			logger.Log(context.Background(), log.LevelWarn, "close failed", log.Err(err))
		}
	}()

	start := time.Now()
	results := check(ctx, conns, backends)

	logger.Log(ctx, log.LevelDebug, "check finished", log.Duration("elapsed", time.Since(start)))

	report(c.App.Writer, results)

	if path := c.String("metrics-file"); path != "" {
		if err := writeMetrics(path, results); err != nil {
			return err
		}
	}

	for _, err := range results {
		if err != nil {
			return errBackendsDown
		}
	}

	return nil
}

// check builds the handle of every backend, then probes what was built.
// A build failure takes precedence over the probe result.
func check(ctx context.Context, conns *connections.Connections, backends []connections.Backend) map[connections.Backend]error {
	results := make(map[connections.Backend]error, len(backends))

	for _, b := range backends {
		results[b] = build(ctx, conns, b)
	}

	for b, err := range conns.Ping(ctx) {
		if results[b] == nil {
			results[b] = err
		}
	}

	return results
}

func build(ctx context.Context, conns *connections.Connections, b connections.Backend) error {
	var err error

	switch b {
	case connections.BackendKafka:
		_, err = conns.Producer(ctx)

		// The consumer needs a group and topic; only check it when both are set.
		if kcfg := conns.Config().Kafka; err == nil && kcfg != nil && kcfg.GroupID != "" && kcfg.Topic != "" {
			_, err = conns.Consumer(ctx)
		}
	case connections.BackendRedis:
		_, err = conns.Cache(ctx)
	case connections.BackendCassandra:
		_, err = conns.Session(ctx)
	default:
		err = fmt.Errorf("%w: %q", connections.ErrUnknownBackend, b)
	}

	return err
}

func report(w io.Writer, results map[connections.Backend]error) {
	names := make([]string, 0, len(results))
	for b := range results {
		names = append(names, string(b))
	}

	sort.Strings(names)

	for _, name := range names {
		if err := results[connections.Backend(name)]; err != nil {
			fmt.Fprintf(w, "%-10s FAIL  %v\n", name, err)
			continue
		}

		fmt.Fprintf(w, "%-10s OK\n", name)
	}
}

// withLogLevel overrides the configured level only when one was given, so
// the environment profile's default still applies otherwise.
func withLogLevel(cfg libZap.Config, level string) libZap.Config {
	if strings.TrimSpace(level) != "" {
		cfg.Level = level
	}

	return cfg
}
