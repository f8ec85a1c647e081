package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/config"
	"github.com/estensen/wallet-valuation/internal/database"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "walletvalue",
	Short:         "Value wallet transactions in USD and report holdings per user",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"transactions":             "transactions",
	"prices":                   "prices",
	"price":                    "price",
	"price-source":             "price_source",
	"prices-file":              "prices_file",
	"missing-price-policy":     "missing_price_policy",
	"match-normalized-symbols": "match_normalized_symbols",
	"outputs":                  "outputs",
	"display":                  "display",
	"export-backend":           "export.backend",
	"export-dir":               "export.dir",
	"clickhouse-load":          "clickhouse.load",
	"addr":                     "server.addr",
	"rate-limit":               "server.rate_limit",
	"log-level":                "log_level",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newServeCmd())
}

// loadConfig reads .env, the config file, WALLETVALUE_* variables and the
// flags set on cmd, in increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v, err := config.New(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}

	return cfg, newLogger(cfg.LogLevel), nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Prefix:          "walletvalue",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func aggregatorOptions(cfg *config.Config) aggregator.Options {
	return aggregator.Options{
		MissingPricePolicy:     aggregator.MissingPricePolicy(cfg.MissingPricePolicy),
		MatchNormalizedSymbols: cfg.MatchNormalizedSymbols,
	}
}

func clickHouseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Addr:       cfg.ClickHouse.Addr,
		Database:   cfg.ClickHouse.Database,
		Username:   cfg.ClickHouse.Username,
		Password:   cfg.ClickHouse.Password,
		PriceTable: cfg.ClickHouse.PriceTable,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
