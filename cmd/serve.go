package main

import (
	"github.com/spf13/cobra"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/api"
	"github.com/estensen/wallet-valuation/internal/config"
	"github.com/estensen/wallet-valuation/internal/database"
	"github.com/estensen/wallet-valuation/internal/metrics"
	"github.com/estensen/wallet-valuation/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports for uploaded transactions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			apiCfg := api.Config{
				Options:           aggregatorOptions(cfg),
				RequestsPerSecond: cfg.Server.RateLimit,
				Burst:             cfg.Server.Burst,
			}

			// Requests without prices fall back to the configured table.
			switch cfg.PriceSource {
			case config.PriceSourceClickHouse:
				conn, err := database.NewClickHouseConnection(ctx, clickHouseConfig(cfg), logger)
				if err != nil {
					return err
				}
				defer conn.Close()
				source := database.NewPriceSource(conn, cfg.ClickHouse.PriceTable)
				apiCfg.Fallback = pipeline.NewCachedPrices(source, cfg.Server.PriceCacheTTL)
			case config.PriceSourceCSV, config.PriceSourceAuto:
				if cfg.Prices != "" {
					apiCfg.Fallback = pipeline.NewCachedPrices(pipeline.FilePrices{Path: cfg.Prices}, cfg.Server.PriceCacheTTL)
				}
			}

			server := api.NewServer(apiCfg, metrics.New(), logger)
			return api.StartServer(ctx, cfg.Server.Addr, server)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "Listen address")
	flags.Float64("rate-limit", 5, "Requests per second per client, 0 disables the limit")
	flags.StringP("prices", "p", "", "Fallback price CSV for requests without prices")
	flags.String("price-source", config.PriceSourceAuto, "Fallback price source: auto, csv, manual or clickhouse")
	flags.String("missing-price-policy", string(aggregator.PolicyZero), "Unpriced denominations: zero, exclude or fail")
	flags.Bool("match-normalized-symbols", false, "Retry unpriced denominations with their normalized symbol")

	return cmd
}
