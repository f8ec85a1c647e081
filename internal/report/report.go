package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/models"
)

// Tier bounds in USD. The mid tier is [MidTierMin, MidTierMax]; the high
// tier is strictly above MidTierMax.
var (
	MidTierMin = decimal.NewFromInt(250)
	MidTierMax = decimal.NewFromInt(2500)
)

// View names a selectable report output.
type View string

const (
	ViewSummary  View = "summary"
	ViewMidTier  View = "mid"
	ViewHighTier View = "high"
	ViewAll      View = "all"
)

// Views lists every view in display order.
var Views = []View{ViewSummary, ViewMidTier, ViewHighTier, ViewAll}

// DefaultViews is the selection used when none is given.
var DefaultViews = []View{ViewSummary, ViewMidTier}

var ErrUnknownView = errors.New("unknown report view")

// ParseView validates a view name.
func ParseView(s string) (View, error) {
	for _, v := range Views {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Summary metric labels. "Users Above $100" counts users above MidTierMin;
// the label is kept as published.
// TODO: rename to "Users Above $250" once summary.csv consumers match on it.
const (
	MetricTotalUsers    = "Total Users"
	MetricUsersAbove    = "Users Above $100"
	MetricTotalUSDValue = "Total USD Value Held"
)

const (
	summaryMetricColumn = "Metric"
	summaryValueColumn  = "Value"
	userIDColumn        = "user_id"
	totalUSDColumn      = "total_usd"
	walletAddressColumn = "wallet_address"
	unitsSuffix         = " units"
	usdValueSuffix      = " usd_value"
	assetDenomColumn    = "denomination"
	assetTotalUnitsCol  = "total_units"
	assetTotalUSDColumn = "total_usd"
)

// Summary holds the headline figures of a report.
type Summary struct {
	TotalUsers  int                 `json:"total_users"`
	UsersAbove  int                 `json:"users_above_250"`
	TotalUSD    decimal.Decimal     `json:"total_usd"`
	AssetTotals []models.AssetTotal `json:"asset_totals"`
}

// Report exposes filtered views over one aggregation result. Views never
// modify the underlying users.
type Report struct {
	denominations []string
	users         []models.UserBreakdown
	assets        []models.AssetTotal
}

func New(result *aggregator.Result) *Report {
	return &Report{
		denominations: result.Denominations,
		users:         result.Users,
		assets:        result.AssetTotals,
	}
}

func (r *Report) Denominations() []string {
	return r.denominations
}

func (r *Report) Summary() Summary {
	s := Summary{
		TotalUsers:  len(r.users),
		TotalUSD:    decimal.Zero,
		AssetTotals: r.assets,
	}
	for _, u := range r.users {
		if u.TotalUSD.GreaterThan(MidTierMin) {
			s.UsersAbove++
		}
		s.TotalUSD = s.TotalUSD.Add(u.TotalUSD)
	}
	return s
}

// MidTier returns users with MidTierMin <= total_usd <= MidTierMax.
func (r *Report) MidTier() []models.UserBreakdown {
	return r.filter(func(u models.UserBreakdown) bool {
		return u.TotalUSD.GreaterThanOrEqual(MidTierMin) && u.TotalUSD.LessThanOrEqual(MidTierMax)
	})
}

// HighTier returns users with total_usd > MidTierMax.
func (r *Report) HighTier() []models.UserBreakdown {
	return r.filter(func(u models.UserBreakdown) bool {
		return u.TotalUSD.GreaterThan(MidTierMax)
	})
}

func (r *Report) All() []models.UserBreakdown {
	return r.filter(func(models.UserBreakdown) bool { return true })
}

func (r *Report) filter(keep func(models.UserBreakdown) bool) []models.UserBreakdown {
	out := make([]models.UserBreakdown, 0, len(r.users))
	for _, u := range r.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out
}

// Table is a rendered, export-ready view.
type Table struct {
	Title    string
	FileName string
	Header   []string
	Rows     [][]string
}

// Tables renders the selected views. The summary view expands into the
// summary table and the asset breakdown table.
func (r *Report) Tables(views []View) []Table {
	var tables []Table
	for _, v := range views {
		switch v {
		case ViewSummary:
			tables = append(tables, r.SummaryTable(), r.AssetTable())
		case ViewMidTier:
			tables = append(tables, r.UsersTable("Users Between $250 and $2500", "users_250_to_2500_with_breakdown.csv", r.MidTier()))
		case ViewHighTier:
			tables = append(tables, r.UsersTable("Users Above $2500", "users_above_2500_with_breakdown.csv", r.HighTier()))
		case ViewAll:
			tables = append(tables, r.UsersTable("All Users", "all_users_with_breakdown.csv", r.All()))
		}
	}
	return tables
}

// UsersTable widens the long-form holdings into one units column and one
// usd_value column per denomination.
func (r *Report) UsersTable(title, fileName string, users []models.UserBreakdown) Table {
	header := []string{userIDColumn, totalUSDColumn, walletAddressColumn}
	for _, denom := range r.denominations {
		header = append(header, denom+unitsSuffix)
	}
	for _, denom := range r.denominations {
		header = append(header, denom+usdValueSuffix)
	}

	rows := make([][]string, 0, len(users))
	for _, u := range users {
		byDenom := make(map[string]models.Holding, len(u.Holdings))
		for _, h := range u.Holdings {
			byDenom[h.Denomination] = h
		}

		row := []string{u.UserID, u.TotalUSD.String(), u.WalletAddress}
		for _, denom := range r.denominations {
			row = append(row, byDenom[denom].Units.String())
		}
		for _, denom := range r.denominations {
			row = append(row, byDenom[denom].USDValue.String())
		}
		rows = append(rows, row)
	}

	return Table{Title: title, FileName: fileName, Header: header, Rows: rows}
}

func (r *Report) SummaryTable() Table {
	s := r.Summary()
	return Table{
		Title:    "Summary",
		FileName: "summary.csv",
		Header:   []string{summaryMetricColumn, summaryValueColumn},
		Rows: [][]string{
			{MetricTotalUsers, strconv.Itoa(s.TotalUsers)},
			{MetricUsersAbove, strconv.Itoa(s.UsersAbove)},
			{MetricTotalUSDValue, s.TotalUSD.String()},
		},
	}
}

func (r *Report) AssetTable() Table {
	rows := make([][]string, 0, len(r.assets))
	for _, a := range r.assets {
		rows = append(rows, []string{a.Denomination, a.TotalUnits.String(), a.TotalUSD.String()})
	}
	return Table{
		Title:    "Total Asset Breakdown",
		FileName: "asset_breakdown.csv",
		Header:   []string{assetDenomColumn, assetTotalUnitsCol, assetTotalUSDColumn},
		Rows:     rows,
	}
}

// WriteCSV writes the table with a single header row and no index column.
func (t Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(t.Header); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("error writing CSV records: %w", err)
	}
	return nil
}
