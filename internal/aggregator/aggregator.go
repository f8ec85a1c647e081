package aggregator

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/models"
	"github.com/estensen/wallet-valuation/internal/price"
	"github.com/estensen/wallet-valuation/internal/token"
)

// MissingPricePolicy decides what happens to transactions whose
// denomination has no price.
type MissingPricePolicy string

const (
	// PolicyZero counts unpriced transactions as zero USD in every sum.
	PolicyZero MissingPricePolicy = "zero"
	// PolicyExclude drops users holding any unpriced transaction.
	PolicyExclude MissingPricePolicy = "exclude"
	// PolicyFail aborts the run.
	PolicyFail MissingPricePolicy = "fail"
)

var (
	ErrMissingPrice  = errors.New("missing price for denominations")
	ErrUnknownPolicy = errors.New("unknown missing price policy")
)

// Options configures an aggregation run.
type Options struct {
	MissingPricePolicy MissingPricePolicy
	// MatchNormalizedSymbols retries an unpriced denomination with its
	// normalized symbol, so "usdc.e" can use the "USDC" price.
	MatchNormalizedSymbols bool
}

// Result holds every table derived from one set of inputs.
type Result struct {
	Enriched        []models.EnrichedTransaction
	Denominations   []string
	Holdings        []models.Holding
	Users           []models.UserBreakdown
	AssetTotals     []models.AssetTotal
	MissingPrices   []string
	ExcludedUsers   []string
	WalletConflicts []models.WalletConflict
}

type Aggregator interface {
	Aggregate(transactions []models.Transaction, prices *price.Table) (*Result, error)
}

type SimpleAggregator struct {
	opts   Options
	logger *log.Logger
}

func NewAggregator(logger *log.Logger, opts Options) *SimpleAggregator {
	if opts.MissingPricePolicy == "" {
		opts.MissingPricePolicy = PolicyZero
	}
	return &SimpleAggregator{
		opts:   opts,
		logger: logger,
	}
}

// Aggregate enriches the transactions with prices and derives the per-user
// and per-asset tables. It is a pure function of its inputs.
func (a *SimpleAggregator) Aggregate(transactions []models.Transaction, prices *price.Table) (*Result, error) {
	switch a.opts.MissingPricePolicy {
	case PolicyZero, PolicyExclude, PolicyFail:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, a.opts.MissingPricePolicy)
	}

	if err := prices.Validate(); err != nil {
		return nil, err
	}

	lookup := a.lookupFunc(prices)

	denominations := distinctSorted(transactions, func(t models.Transaction) string { return t.Denomination })

	var missing []string
	for _, denom := range denominations {
		if _, ok := lookup(denom); !ok {
			missing = append(missing, denom)
		}
	}

	if len(missing) > 0 {
		if a.opts.MissingPricePolicy == PolicyFail {
			return nil, fmt.Errorf("%w: %s", ErrMissingPrice, strings.Join(missing, ", "))
		}
		a.logger.Warn("no price supplied, USD value undefined",
			"denominations", strings.Join(missing, ","), "policy", a.opts.MissingPricePolicy)
	}

	enriched := Enrich(transactions, lookup)

	totals, conflicts := AggregateUsers(enriched)
	for _, c := range conflicts {
		a.logger.Warn("user has more than one wallet address, keeping the first",
			"user_id", c.UserID, "addresses", strings.Join(c.Addresses, ","))
	}

	holdings := Pivot(enriched, denominations)
	users := Merge(totals, holdings)

	var excluded []string
	if a.opts.MissingPricePolicy == PolicyExclude && len(missing) > 0 {
		users, excluded = excludeUnpriced(users, enriched)
		holdings = holdingsOf(users)
		if len(excluded) > 0 {
			a.logger.Warn("excluded users with unpriced transactions", "count", len(excluded))
		}
	}

	return &Result{
		Enriched:        enriched,
		Denominations:   denominations,
		Holdings:        holdings,
		Users:           users,
		AssetTotals:     AssetTotals(enriched),
		MissingPrices:   missing,
		ExcludedUsers:   excluded,
		WalletConflicts: conflicts,
	}, nil
}

func (a *SimpleAggregator) lookupFunc(prices *price.Table) func(string) (decimal.Decimal, bool) {
	if !a.opts.MatchNormalizedSymbols {
		return prices.Lookup
	}

	normalized := make(map[string]decimal.Decimal)
	for _, entry := range prices.Entries() {
		key := token.NormalizeSymbol(entry.Denomination)
		if _, exists := normalized[key]; !exists {
			normalized[key] = entry.Price
		}
	}

	return func(denom string) (decimal.Decimal, bool) {
		if p, ok := prices.Lookup(denom); ok {
			return p, true
		}
		p, ok := normalized[token.NormalizeSymbol(denom)]
		return p, ok
	}
}

// Enrich attaches the price and USD value to every transaction. Rows whose
// denomination has no price keep both values undefined.
func Enrich(transactions []models.Transaction, lookup func(string) (decimal.Decimal, bool)) []models.EnrichedTransaction {
	enriched := make([]models.EnrichedTransaction, 0, len(transactions))
	for _, txn := range transactions {
		row := models.EnrichedTransaction{Transaction: txn}
		if p, ok := lookup(txn.Denomination); ok {
			row.Price = decimal.NewNullDecimal(p)
			row.USDValue = decimal.NewNullDecimal(txn.Units.Mul(p))
		}
		enriched = append(enriched, row)
	}
	return enriched
}

// AggregateUsers groups rows by user_id. Undefined USD values add nothing
// to total_usd. The first non-empty wallet address in input order is kept;
// users seen with several addresses are returned as conflicts.
func AggregateUsers(enriched []models.EnrichedTransaction) ([]models.UserTotal, []models.WalletConflict) {
	index := make(map[string]int)
	var totals []models.UserTotal
	addresses := make(map[string][]string)

	for _, row := range enriched {
		i, ok := index[row.UserID]
		if !ok {
			i = len(totals)
			index[row.UserID] = i
			totals = append(totals, models.UserTotal{UserID: row.UserID, TotalUSD: decimal.Zero})
		}

		if row.USDValue.Valid {
			totals[i].TotalUSD = totals[i].TotalUSD.Add(row.USDValue.Decimal)
		}

		addr := row.WalletPublicAddress
		if addr == "" {
			continue
		}
		if totals[i].WalletAddress == "" {
			totals[i].WalletAddress = addr
		}
		if !slices.Contains(addresses[row.UserID], addr) {
			addresses[row.UserID] = append(addresses[row.UserID], addr)
		}
	}

	sort.Slice(totals, func(i, j int) bool { return lessKey(totals[i].UserID, totals[j].UserID) })

	var conflicts []models.WalletConflict
	for _, t := range totals {
		if addrs := addresses[t.UserID]; len(addrs) > 1 {
			conflicts = append(conflicts, models.WalletConflict{UserID: t.UserID, Addresses: addrs})
		}
	}

	return totals, conflicts
}

// Pivot sums units and USD value per user and denomination. Every user
// gets one holding per denomination, zero when they never touched it.
func Pivot(enriched []models.EnrichedTransaction, denominations []string) []models.Holding {
	type key struct{ user, denom string }
	sums := make(map[key]*models.Holding)

	users := distinctSorted(enriched, func(r models.EnrichedTransaction) string { return r.UserID })
	holdings := make([]models.Holding, 0, len(users)*len(denominations))
	for _, user := range users {
		for _, denom := range denominations {
			holdings = append(holdings, models.Holding{
				UserID:       user,
				Denomination: denom,
				Units:        decimal.Zero,
				USDValue:     decimal.Zero,
			})
		}
	}
	for i := range holdings {
		sums[key{holdings[i].UserID, holdings[i].Denomination}] = &holdings[i]
	}

	for _, row := range enriched {
		h, ok := sums[key{row.UserID, row.Denomination}]
		if !ok {
			continue
		}
		h.Units = h.Units.Add(row.Units)
		if row.USDValue.Valid {
			h.USDValue = h.USDValue.Add(row.USDValue.Decimal)
		}
	}

	return holdings
}

// Merge left-joins user totals with their holdings on user_id.
func Merge(totals []models.UserTotal, holdings []models.Holding) []models.UserBreakdown {
	byUser := make(map[string][]models.Holding)
	for _, h := range holdings {
		byUser[h.UserID] = append(byUser[h.UserID], h)
	}

	users := make([]models.UserBreakdown, 0, len(totals))
	for _, t := range totals {
		users = append(users, models.UserBreakdown{UserTotal: t, Holdings: byUser[t.UserID]})
	}
	return users
}

// AssetTotals sums units and USD value per denomination across all users.
func AssetTotals(enriched []models.EnrichedTransaction) []models.AssetTotal {
	index := make(map[string]int)
	var totals []models.AssetTotal

	for _, row := range enriched {
		i, ok := index[row.Denomination]
		if !ok {
			i = len(totals)
			index[row.Denomination] = i
			totals = append(totals, models.AssetTotal{
				Denomination: row.Denomination,
				TotalUnits:   decimal.Zero,
				TotalUSD:     decimal.Zero,
			})
		}

		totals[i].TotalUnits = totals[i].TotalUnits.Add(row.Units)
		if row.USDValue.Valid {
			totals[i].TotalUSD = totals[i].TotalUSD.Add(row.USDValue.Decimal)
		}
	}

	sort.Slice(totals, func(i, j int) bool { return totals[i].Denomination < totals[j].Denomination })
	return totals
}

func excludeUnpriced(users []models.UserBreakdown, enriched []models.EnrichedTransaction) ([]models.UserBreakdown, []string) {
	unpriced := make(map[string]struct{})
	for _, row := range enriched {
		if !row.USDValue.Valid {
			unpriced[row.UserID] = struct{}{}
		}
	}

	kept := make([]models.UserBreakdown, 0, len(users))
	var excluded []string
	for _, u := range users {
		if _, ok := unpriced[u.UserID]; ok {
			excluded = append(excluded, u.UserID)
			continue
		}
		kept = append(kept, u)
	}
	return kept, excluded
}

func holdingsOf(users []models.UserBreakdown) []models.Holding {
	var holdings []models.Holding
	for _, u := range users {
		holdings = append(holdings, u.Holdings...)
	}
	return holdings
}

func distinctSorted[T any](rows []T, key func(T) string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

// lessKey orders numeric keys numerically and before any other key, and
// everything else lexically.
func lessKey(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	switch {
	case errA == nil && errB == nil:
		if !da.Equal(db) {
			return da.LessThan(db)
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
