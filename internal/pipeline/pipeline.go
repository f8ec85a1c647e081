package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/models"
	"github.com/estensen/wallet-valuation/internal/parser"
	"github.com/estensen/wallet-valuation/internal/price"
	"github.com/estensen/wallet-valuation/internal/report"
	"github.com/estensen/wallet-valuation/internal/utils"
)

// PriceSource resolves the price table for the denominations of a run.
// Warnings describe input that was accepted but not used.
type PriceSource interface {
	Prices(ctx context.Context, denominations []string) (*price.Table, []string, error)
}

// TableExporter receives the rendered tables once the run has succeeded.
type TableExporter interface {
	Export(ctx context.Context, tables []report.Table) ([]string, error)
}

// ResultLoader persists user and asset totals.
type ResultLoader interface {
	Load(ctx context.Context, runID string, date time.Time, users []models.UserBreakdown, assets []models.AssetTotal) error
}

type Config struct {
	Views []report.View
	// PricesPath, when set, receives the resolved price table as CSV.
	PricesPath string
	Exporter   TableExporter
	Loader     ResultLoader
}

// Output is everything one run produced.
type Output struct {
	RunID     string
	Prices    *price.Table
	Result    *aggregator.Result
	Report    *report.Report
	Tables    []report.Table
	Warnings  []string
	Locations []string
}

type Pipeline struct {
	parser     parser.Parser
	aggregator aggregator.Aggregator
	cfg        Config
	logger     *log.Logger
	now        func() time.Time
}

func New(agg aggregator.Aggregator, cfg Config, logger *log.Logger) *Pipeline {
	if len(cfg.Views) == 0 {
		cfg.Views = report.DefaultViews
	}
	return &Pipeline{
		parser:     parser.NewCSVParser(),
		aggregator: agg,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ParseTransactions validates the schema before any row is read.
func (p *Pipeline) ParseTransactions(r io.Reader) ([]models.Transaction, error) {
	transactions, err := p.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing transactions: %w", err)
	}
	p.logger.Info("parsed transactions", "rows", len(transactions))
	return transactions, nil
}

// ParseTransactionsFile is ParseTransactions for a path on disk.
func (p *Pipeline) ParseTransactionsFile(path string) ([]models.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening transactions file: %w", err)
	}
	defer file.Close()

	return p.ParseTransactions(file)
}

// Run resolves prices and builds the report. Every hard error is returned
// before anything is written, exported or loaded.
func (p *Pipeline) Run(ctx context.Context, transactions []models.Transaction, source PriceSource) (*Output, error) {
	denominations := utils.ExtractUniqueDenominations(transactions)

	prices, warnings, err := source.Prices(ctx, denominations)
	if err != nil {
		return nil, fmt.Errorf("error resolving prices: %w", err)
	}
	for _, w := range warnings {
		p.logger.Warn(w)
	}
	if err := prices.Validate(); err != nil {
		return nil, err
	}

	result, err := p.aggregator.Aggregate(transactions, prices)
	if err != nil {
		return nil, err
	}

	// Saved only once aggregation has succeeded, so a failed run leaves
	// the previous prices file in place.
	if p.cfg.PricesPath != "" {
		if err := prices.Save(p.cfg.PricesPath); err != nil {
			return nil, err
		}
		p.logger.Info("saved prices", "path", p.cfg.PricesPath, "denominations", prices.Len())
	}

	warnings = append(warnings, resultWarnings(result)...)

	rep := report.New(result)
	out := &Output{
		RunID:    uuid.NewString(),
		Prices:   prices,
		Result:   result,
		Report:   rep,
		Tables:   rep.Tables(p.cfg.Views),
		Warnings: warnings,
	}

	if p.cfg.Exporter != nil {
		locations, err := p.cfg.Exporter.Export(ctx, out.Tables)
		if err != nil {
			return nil, err
		}
		out.Locations = locations
	}

	if p.cfg.Loader != nil {
		if err := p.cfg.Loader.Load(ctx, out.RunID, p.now(), result.Users, result.AssetTotals); err != nil {
			return nil, fmt.Errorf("error loading results: %w", err)
		}
		p.logger.Info("loaded results", "run_id", out.RunID, "users", len(result.Users))
	}

	return out, nil
}

func resultWarnings(result *aggregator.Result) []string {
	var warnings []string
	if len(result.MissingPrices) > 0 {
		warnings = append(warnings, fmt.Sprintf("no price for %s: USD value undefined", strings.Join(result.MissingPrices, ", ")))
	}
	for _, c := range result.WalletConflicts {
		warnings = append(warnings, fmt.Sprintf("user %s has wallets %s: kept %s", c.UserID, strings.Join(c.Addresses, ", "), c.Addresses[0]))
	}
	if len(result.ExcludedUsers) > 0 {
		warnings = append(warnings, fmt.Sprintf("excluded users with unpriced holdings: %s", strings.Join(result.ExcludedUsers, ", ")))
	}
	return warnings
}

// CSVPrices reads an uploaded price table.
type CSVPrices struct {
	Reader io.Reader
}

func (s CSVPrices) Prices(_ context.Context, _ []string) (*price.Table, []string, error) {
	prices, err := price.FromCSV(s.Reader)
	if err != nil {
		return nil, nil, err
	}
	return prices, nil, nil
}

// FilePrices reads a price table from disk.
type FilePrices struct {
	Path string
}

func (s FilePrices) Prices(ctx context.Context, denominations []string) (*price.Table, []string, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening prices file: %w", err)
	}
	defer file.Close()

	return CSVPrices{Reader: file}.Prices(ctx, denominations)
}

// ManualPrices prices every denomination from hand-entered values,
// defaulting to zero.
type ManualPrices struct {
	Entries map[string]decimal.Decimal
}

func (s ManualPrices) Prices(_ context.Context, denominations []string) (*price.Table, []string, error) {
	prices, ignored, err := price.FromManual(denominations, s.Entries)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if len(ignored) > 0 {
		warnings = append(warnings, fmt.Sprintf("ignored prices for unknown denominations: %s", strings.Join(ignored, ", ")))
	}
	return prices, warnings, nil
}

// StaticPrices serves a table that was resolved beforehand.
type StaticPrices struct {
	Table *price.Table
}

func (s StaticPrices) Prices(_ context.Context, _ []string) (*price.Table, []string, error) {
	return s.Table, nil, nil
}
