package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/config"
	"github.com/estensen/wallet-valuation/internal/database"
	"github.com/estensen/wallet-valuation/internal/export"
	"github.com/estensen/wallet-valuation/internal/pipeline"
	"github.com/estensen/wallet-valuation/internal/price"
	"github.com/estensen/wallet-valuation/internal/report"
	"github.com/estensen/wallet-valuation/internal/storage"
	"github.com/estensen/wallet-valuation/internal/utils"
)

var errNoTransactions = errors.New("a transactions file is required (--transactions)")

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Value a transactions CSV and export the selected reports",
		Example: `  walletvalue report -t transactions.csv -p prices.csv --outputs summary,mid,high
  walletvalue report -t transactions.csv --price BTC=64000 --price ETH=3100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runReport(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringP("transactions", "t", "", "Transactions CSV")
	flags.StringP("prices", "p", "", "Price CSV with denomination and price columns")
	flags.StringArray("price", nil, "Manual price as DENOMINATION=PRICE (repeatable)")
	flags.String("price-source", config.PriceSourceAuto, "Price source: auto, csv, manual or clickhouse")
	flags.String("prices-file", price.FileName, "Where the prices in effect are saved")
	flags.String("missing-price-policy", string(aggregator.PolicyZero), "Unpriced denominations: zero, exclude or fail")
	flags.Bool("match-normalized-symbols", false, "Retry unpriced denominations with their normalized symbol")
	flags.StringSlice("outputs", []string{"summary", "mid"}, "Reports to produce: summary, mid, high, all")
	flags.Bool("display", true, "Print the reports to the terminal")
	flags.String("export-backend", config.BackendLocal, "Export backend: local, minio or none")
	flags.String("export-dir", "output", "Directory for the local export backend")
	flags.Bool("clickhouse-load", false, "Load user and asset totals into ClickHouse")

	return cmd
}

func runReport(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if cfg.Transactions == "" {
		return errNoTransactions
	}

	views, err := parseViews(cfg.Outputs)
	if err != nil {
		return err
	}

	var conn clickhouse.Conn
	if cfg.ResolvedPriceSource() == config.PriceSourceClickHouse || cfg.ClickHouse.Load {
		conn, err = database.NewClickHouseConnection(ctx, clickHouseConfig(cfg), logger)
		if err != nil {
			return err
		}
		defer conn.Close()
	}

	source, err := priceSource(cfg, conn)
	if err != nil {
		return err
	}

	pipeCfg := pipeline.Config{
		Views:      views,
		PricesPath: cfg.PricesFile,
	}

	exporter, err := newExporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if exporter != nil {
		pipeCfg.Exporter = exporter
	}

	if cfg.ClickHouse.Load {
		loader := database.NewClickHouseLoader(conn)
		if err := loader.EnsureSchema(ctx); err != nil {
			return err
		}
		pipeCfg.Loader = loader
	}

	p := pipeline.New(aggregator.NewAggregator(logger, aggregatorOptions(cfg)), pipeCfg, logger)

	transactions, err := p.ParseTransactionsFile(cfg.Transactions)
	if err != nil {
		return err
	}

	out, err := p.Run(ctx, transactions, source)
	if err != nil {
		return err
	}

	if cfg.Display {
		for _, table := range out.Tables {
			utils.DisplayTable(os.Stdout, table.Title, table.Header, table.Rows)
			fmt.Println()
		}
	}

	logger.Info("report complete",
		"run_id", out.RunID,
		"users", len(out.Result.Users),
		"tables", len(out.Tables),
		"warnings", len(out.Warnings))
	return nil
}

func parseViews(names []string) ([]report.View, error) {
	views := make([]report.View, 0, len(names))
	for _, name := range names {
		v, err := report.ParseView(name)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func priceSource(cfg *config.Config, conn clickhouse.Conn) (pipeline.PriceSource, error) {
	switch cfg.ResolvedPriceSource() {
	case config.PriceSourceCSV:
		return pipeline.FilePrices{Path: cfg.Prices}, nil
	case config.PriceSourceClickHouse:
		return database.NewPriceSource(conn, cfg.ClickHouse.PriceTable), nil
	default:
		entries, err := price.ParseEntries(cfg.PriceEntries)
		if err != nil {
			return nil, err
		}
		return pipeline.ManualPrices{Entries: entries}, nil
	}
}

// newExporter returns nil when exports are disabled. MinIO exports go to a
// fresh run folder so runs never overwrite each other.
func newExporter(ctx context.Context, cfg *config.Config, logger *log.Logger) (*export.Exporter, error) {
	switch cfg.Export.Backend {
	case config.BackendLocal:
		local, err := storage.NewLocalStorage(cfg.Export.Dir)
		if err != nil {
			return nil, err
		}
		return export.NewExporter(local, "", logger), nil
	case config.BackendMinIO:
		remote, err := storage.NewMinIOStorage(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		return export.NewExporter(remote, export.RunPrefix(time.Now()), logger), nil
	default:
		return nil, nil
	}
}
