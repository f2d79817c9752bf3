package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/bot"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
	"github.com/0x941689/showdog-fourmeme-local-api/internal/logging"
)

type flags struct {
	configPath string
	envPath    string
	logLevel   string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "./config.yaml", "path to the YAML config")
	fs.StringVar(&f.envPath, "env", ".env", "dotenv file with RPC and wallet settings")
	fs.StringVar(&f.logLevel, "log-level", "", "overrides log.level")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := config.LoadDotenv(f.envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg.Wallets, err = config.LoadWallets(f.envPath)
	if err != nil {
		logger.Fatal("load wallets", zap.Error(err))
	}

	relay, err := bot.New(cfg, logger)
	if err != nil {
		logger.Fatal("init relay", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("relay starting", zap.String("listen", cfg.API.Listen), zap.String("config", f.configPath))
	if err := relay.Run(ctx); err != nil {
		logger.Fatal("relay", zap.Error(err))
	}
}
