package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/price"
)

var ErrInvalidTableName = errors.New("invalid ClickHouse table name")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Config holds the ClickHouse connection settings.
type Config struct {
	Addr       string
	Database   string
	Username   string
	Password   string
	PriceTable string
}

// NewClickHouseConnection opens and pings a ClickHouse connection.
func NewClickHouseConnection(ctx context.Context, cfg Config, logger *log.Logger) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}

	logger.Info("connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database)
	return conn, nil
}

// ValidateTableName guards identifiers that are interpolated into queries.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}

// PriceQuery builds the query reading a denomination/price table.
func PriceQuery(table string) (string, error) {
	if err := ValidateTableName(table); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT denomination, price FROM %s ORDER BY denomination", table), nil
}

// FetchPrices loads a price table stored in ClickHouse.
func FetchPrices(ctx context.Context, conn clickhouse.Conn, table string) (*price.Table, error) {
	query, err := PriceQuery(table)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error executing price query: %w", err)
	}
	defer rows.Close()

	prices := price.NewTable()
	for rows.Next() {
		var denomination string
		var priceUSD decimal.Decimal
		if err := rows.Scan(&denomination, &priceUSD); err != nil {
			return nil, fmt.Errorf("error scanning price row: %w", err)
		}
		if err := prices.Set(denomination, priceUSD); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}

	return prices, nil
}

// PriceSource serves a ClickHouse price table to the pipeline.
type PriceSource struct {
	conn  clickhouse.Conn
	table string
}

func NewPriceSource(conn clickhouse.Conn, table string) *PriceSource {
	return &PriceSource{conn: conn, table: table}
}

func (s *PriceSource) Prices(ctx context.Context, _ []string) (*price.Table, []string, error) {
	prices, err := FetchPrices(ctx, s.conn, s.table)
	if err != nil {
		return nil, nil, err
	}
	return prices, nil, nil
}
