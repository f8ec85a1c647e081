package price

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/parser"
)

// FileName is where the prices in effect for a run are saved.
const FileName = "crypto_prices.csv"

// Predefined errors for better error handling.
var (
	ErrNoPrices          = errors.New("no crypto prices provided")
	ErrNegativePrice     = errors.New("price must not be negative")
	ErrEmptyDenomination = errors.New("price entry has no denomination")
	ErrInvalidEntry      = errors.New("invalid price entry")
)

// Entry is one denomination and its USD price.
type Entry struct {
	Denomination string          `json:"denomination"`
	Price        decimal.Decimal `json:"price"`
}

// Table maps denominations to USD prices. Iteration follows first
// insertion; setting an existing denomination replaces its price in place.
type Table struct {
	order  []string
	prices map[string]decimal.Decimal
}

// NewTable creates an empty price table.
func NewTable() *Table {
	return &Table{prices: make(map[string]decimal.Decimal)}
}

// Set records the price of a denomination.
func (t *Table) Set(denomination string, price decimal.Decimal) error {
	if denomination == "" {
		return ErrEmptyDenomination
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: %s=%s", ErrNegativePrice, denomination, price)
	}
	if _, exists := t.prices[denomination]; !exists {
		t.order = append(t.order, denomination)
	}
	t.prices[denomination] = price
	return nil
}

// Lookup returns the price of a denomination, if one was supplied.
func (t *Table) Lookup(denomination string) (decimal.Decimal, bool) {
	p, ok := t.prices[denomination]
	return p, ok
}

func (t *Table) Len() int {
	return len(t.order)
}

// Entries returns the table contents in insertion order.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, 0, len(t.order))
	for _, denom := range t.order {
		entries = append(entries, Entry{Denomination: denom, Price: t.prices[denom]})
	}
	return entries
}

// Validate fails when the table holds no prices at all.
func (t *Table) Validate() error {
	if t == nil || t.Len() == 0 {
		return ErrNoPrices
	}
	return nil
}

// FromRecords builds a table from parsed price rows.
func FromRecords(records []parser.PriceRecord) (*Table, error) {
	table := NewTable()
	for _, rec := range records {
		if err := table.Set(rec.Denomination, rec.Price); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// FromCSV reads an uploaded price table with denomination and price columns.
func FromCSV(r io.Reader) (*Table, error) {
	records, err := parser.NewCSVParser().ParsePrices(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing crypto prices CSV: %w", err)
	}
	return FromRecords(records)
}

// FromManual builds a table holding every denomination, priced from
// entries and defaulting to zero. Entries for denominations outside the
// list are not used and are returned as ignored.
func FromManual(denominations []string, entries map[string]decimal.Decimal) (*Table, []string, error) {
	table := NewTable()
	used := make(map[string]struct{}, len(denominations))
	for _, denom := range denominations {
		p, ok := entries[denom]
		if !ok {
			p = decimal.Zero
		}
		if err := table.Set(denom, p); err != nil {
			return nil, nil, err
		}
		used[denom] = struct{}{}
	}

	var ignored []string
	for denom := range entries {
		if _, ok := used[denom]; !ok {
			ignored = append(ignored, denom)
		}
	}
	sort.Strings(ignored)

	return table, ignored, nil
}

// ParseEntries decodes manual entries of the form "BTC=64000.5".
func ParseEntries(raw []string) (map[string]decimal.Decimal, error) {
	entries := make(map[string]decimal.Decimal, len(raw))
	for _, item := range raw {
		denom, value, found := strings.Cut(item, "=")
		denom = strings.TrimSpace(denom)
		if !found || denom == "" {
			return nil, fmt.Errorf("%w: %q (want DENOMINATION=PRICE)", ErrInvalidEntry, item)
		}

		p, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEntry, item, err)
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("%w: %s=%s", ErrNegativePrice, denom, p)
		}
		entries[denom] = p
	}
	return entries, nil
}

// WriteCSV writes the table with Denomination and Price columns.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"Denomination", "Price"}); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}

	for _, entry := range t.Entries() {
		if err := writer.Write([]string{entry.Denomination, entry.Price.String()}); err != nil {
			return fmt.Errorf("error writing CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("error flushing CSV writer: %w", err)
	}
	return nil
}

// Save overwrites path with the table contents.
func (t *Table) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}

	if err := t.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
