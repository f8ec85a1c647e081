package report

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/models"
)

func user(id, total string) models.UserBreakdown {
	return models.UserBreakdown{
		UserTotal: models.UserTotal{
			UserID:        id,
			TotalUSD:      decimal.RequireFromString(total),
			WalletAddress: "0x" + id,
		},
		Holdings: []models.Holding{
			{UserID: id, Denomination: "USDT", Units: decimal.RequireFromString(total), USDValue: decimal.RequireFromString(total)},
		},
	}
}

func newTestReport(users ...models.UserBreakdown) *Report {
	return New(&aggregator.Result{
		Denominations: []string{"USDT"},
		Users:         users,
		AssetTotals: []models.AssetTotal{
			{Denomination: "USDT", TotalUnits: decimal.NewFromInt(1), TotalUSD: decimal.NewFromInt(1)},
		},
	})
}

func ids(users []models.UserBreakdown) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out
}

func TestTierBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		total  string
		inMid  bool
		inHigh bool
	}{
		{name: "below mid tier", total: "249.99"},
		{name: "exactly 250", total: "250.00", inMid: true},
		{name: "inside mid tier", total: "1000", inMid: true},
		{name: "exactly 2500", total: "2500.00", inMid: true},
		{name: "just above 2500", total: "2500.01", inHigh: true},
		{name: "negative total", total: "-10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReport(user("u", tc.total))
			assert.Equal(t, tc.inMid, len(r.MidTier()) == 1, "mid tier membership")
			assert.Equal(t, tc.inHigh, len(r.HighTier()) == 1, "high tier membership")
		})
	}
}

func TestTierPartition(t *testing.T) {
	r := newTestReport(
		user("a", "0"),
		user("b", "250"),
		user("c", "2500"),
		user("d", "2500.01"),
		user("e", "99999"),
		user("f", "249.999"),
	)

	mid := ids(r.MidTier())
	high := ids(r.HighTier())
	assert.Equal(t, []string{"b", "c"}, mid)
	assert.Equal(t, []string{"d", "e"}, high)

	for _, id := range mid {
		assert.NotContains(t, high, id)
	}
	assert.Len(t, r.All(), 6)
}

func TestFiltersDoNotMutate(t *testing.T) {
	users := []models.UserBreakdown{user("a", "100"), user("b", "300")}
	r := newTestReport(users...)

	mid := r.MidTier()
	require.Len(t, mid, 1)
	mid[0].UserID = "changed"

	assert.Equal(t, "b", r.All()[1].UserID)
	assert.Equal(t, "b", users[1].UserID)
}

func TestSummary(t *testing.T) {
	r := newTestReport(user("a", "100"), user("b", "250"), user("c", "250.5"), user("d", "3000"))

	s := r.Summary()
	assert.Equal(t, 4, s.TotalUsers)
	assert.Equal(t, 2, s.UsersAbove, "250 itself is not above 250")
	assert.True(t, decimal.RequireFromString("3600.5").Equal(s.TotalUSD))
	assert.Len(t, s.AssetTotals, 1)

	table := r.SummaryTable()
	assert.Equal(t, "summary.csv", table.FileName)
	assert.Equal(t, []string{"Metric", "Value"}, table.Header)
	assert.Equal(t, [][]string{
		{"Total Users", "4"},
		{"Users Above $100", "2"},
		{"Total USD Value Held", "3600.5"},
	}, table.Rows)
}

func TestUsersTable(t *testing.T) {
	r := New(&aggregator.Result{
		Denominations: []string{"BTC", "ETH"},
		Users: []models.UserBreakdown{
			{
				UserTotal: models.UserTotal{UserID: "A", TotalUSD: decimal.NewFromInt(250), WalletAddress: "0x1"},
				Holdings: []models.Holding{
					{UserID: "A", Denomination: "BTC", Units: decimal.NewFromInt(2), USDValue: decimal.NewFromInt(200)},
					{UserID: "A", Denomination: "ETH", Units: decimal.NewFromInt(10), USDValue: decimal.NewFromInt(50)},
				},
			},
		},
	})

	table := r.UsersTable("Users Between $250 and $2500", "users_250_to_2500_with_breakdown.csv", r.MidTier())
	assert.Equal(t, []string{
		"user_id", "total_usd", "wallet_address",
		"BTC units", "ETH units",
		"BTC usd_value", "ETH usd_value",
	}, table.Header)
	assert.Equal(t, [][]string{{"A", "250", "0x1", "2", "10", "200", "50"}}, table.Rows)

	var buf bytes.Buffer
	require.NoError(t, table.WriteCSV(&buf))
	assert.Equal(t,
		"user_id,total_usd,wallet_address,BTC units,ETH units,BTC usd_value,ETH usd_value\n"+
			"A,250,0x1,2,10,200,50\n",
		buf.String())
}

func TestAssetTable(t *testing.T) {
	r := New(&aggregator.Result{
		AssetTotals: []models.AssetTotal{
			{Denomination: "BTC", TotalUnits: decimal.NewFromInt(3), TotalUSD: decimal.NewFromInt(300)},
		},
	})

	table := r.AssetTable()
	assert.Equal(t, "asset_breakdown.csv", table.FileName)
	assert.Equal(t, []string{"denomination", "total_units", "total_usd"}, table.Header)
	assert.Equal(t, [][]string{{"BTC", "3", "300"}}, table.Rows)
}

func TestTables(t *testing.T) {
	r := newTestReport(user("a", "300"))

	var names []string
	for _, table := range r.Tables(Views) {
		names = append(names, table.FileName)
	}
	assert.Equal(t, []string{
		"summary.csv",
		"asset_breakdown.csv",
		"users_250_to_2500_with_breakdown.csv",
		"users_above_2500_with_breakdown.csv",
		"all_users_with_breakdown.csv",
	}, names)

	assert.Len(t, r.Tables(DefaultViews), 3)
}

func TestParseView(t *testing.T) {
	v, err := ParseView("high")
	require.NoError(t, err)
	assert.Equal(t, ViewHighTier, v)

	_, err = ParseView("everything")
	assert.ErrorIs(t, err, ErrUnknownView)
}
