package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/estensen/wallet-valuation/internal/models"
)

const createUserTotals = `
CREATE TABLE IF NOT EXISTS wallet_user_totals (
    run_id String,
    run_date Date,
    user_id String,
    wallet_address String,
    total_usd Decimal(38, 18)
) ENGINE = MergeTree
ORDER BY (run_date, run_id, user_id)`

const createAssetTotals = `
CREATE TABLE IF NOT EXISTS wallet_asset_totals (
    run_id String,
    run_date Date,
    denomination String,
    total_units Decimal(38, 18),
    total_usd Decimal(38, 18)
) ENGINE = MergeTree
ORDER BY (run_date, run_id, denomination)`

// ClickHouseLoader stores the totals of a run in ClickHouse.
type ClickHouseLoader struct {
	Conn clickhouse.Conn
}

// NewClickHouseLoader creates a new ClickHouseLoader.
func NewClickHouseLoader(conn clickhouse.Conn) *ClickHouseLoader {
	return &ClickHouseLoader{
		Conn: conn,
	}
}

// EnsureSchema creates the result tables when missing.
func (l *ClickHouseLoader) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{createUserTotals, createAssetTotals} {
		if err := l.Conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("error creating ClickHouse table: %w", err)
		}
	}
	return nil
}

// Load inserts user and asset totals tagged with the run id.
func (l *ClickHouseLoader) Load(ctx context.Context, runID string, date time.Time, users []models.UserBreakdown, assets []models.AssetTotal) error {
	batch, err := l.Conn.PrepareBatch(ctx, "INSERT INTO wallet_user_totals (run_id, run_date, user_id, wallet_address, total_usd)")
	if err != nil {
		return fmt.Errorf("error preparing ClickHouse batch: %w", err)
	}
	for _, u := range users {
		if err := batch.Append(runID, date, u.UserID, u.WalletAddress, u.TotalUSD); err != nil {
			return fmt.Errorf("error appending to ClickHouse batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("error sending batch to ClickHouse: %w", err)
	}

	batch, err = l.Conn.PrepareBatch(ctx, "INSERT INTO wallet_asset_totals (run_id, run_date, denomination, total_units, total_usd)")
	if err != nil {
		return fmt.Errorf("error preparing ClickHouse batch: %w", err)
	}
	for _, a := range assets {
		if err := batch.Append(runID, date, a.Denomination, a.TotalUnits, a.TotalUSD); err != nil {
			return fmt.Errorf("error appending to ClickHouse batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("error sending batch to ClickHouse: %w", err)
	}

	return nil
}
