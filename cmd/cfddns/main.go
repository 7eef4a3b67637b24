package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Travis-Britz/cfddns"
	"github.com/Travis-Britz/cfddns/internal/config"
)

// logger is replaced once the configuration is known; until then it reports at info level.
var logger = mustLogger(false)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Fatal("cfddns failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Verbose {
		logger = mustLogger(true)
	}
	logger.Debug("config is valid",
		zap.String("zone", cfg.Zone),
		zap.String("record", cfg.Record),
		zap.String("key_file", cfg.KeyFile),
		zap.Bool("token_from_config", cfg.Token != ""),
		zap.Strings("providers", cfg.Providers),
		zap.String("ip", cfg.IP),
		zap.String("interface", cfg.Interface),
		zap.Duration("connect_timeout", cfg.ConnectTimeout),
		zap.Duration("timeout", cfg.Timeout),
		zap.Bool("dry_run", cfg.DryRun),
	)

	ctx := context.Background()
	httpClient := cfddns.NewHTTPClient(cfg.ConnectTimeout, cfg.Timeout)

	key, err := apiToken(ctx, cfg, httpClient)
	if err != nil {
		return fmt.Errorf("error reading key: %w", err)
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return fmt.Errorf("error creating resolver: %w", err)
	}

	client, err := cfddns.New(cfg.Zone, cfg.Record,
		cfddns.UsingCloudflare(key),
		cfddns.UsingResolver(resolver),
		cfddns.UsingHTTPClient(httpClient),
		cfddns.WithLogger(logger),
		cfddns.DryRun(cfg.DryRun),
	)
	if err != nil {
		return fmt.Errorf("error creating cfddns.Updater: %w", err)
	}
	if _, err := client.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func newResolver(cfg *config.Config) (cfddns.Resolver, error) {
	switch {
	case cfg.IP != "":
		return cfddns.FromString(cfg.IP)
	case cfg.Interface != "":
		return cfddns.InterfaceResolver(cfg.Interface), nil
	default:
		return cfddns.WebResolver(cfg.Providers...)
	}
}

func mustLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Encoding = "console"
	zapCfg.Sampling = nil
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	l, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fail to init logger, error: %v\n", err)
		os.Exit(1)
	}
	return l
}
