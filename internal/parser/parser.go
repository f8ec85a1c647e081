package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/estensen/wallet-valuation/internal/models"
)

const (
	ColTransactionType     = "transaction_type"
	ColUserID              = "user_id"
	ColWalletPublicAddress = "wallet_public_address"
	ColTransactionDate     = "transaction_date"
	ColDenomination        = "denomination"
	ColUnits               = "units"
	ColPrice               = "price"
)

// RequiredColumns lists the transaction columns in canonical order.
var RequiredColumns = []string{
	ColTransactionType,
	ColUserID,
	ColWalletPublicAddress,
	ColTransactionDate,
	ColDenomination,
	ColUnits,
}

// PriceColumns lists the columns of an uploaded price table.
var PriceColumns = []string{ColDenomination, ColPrice}

var (
	ErrNoHeader          = errors.New("missing header row")
	ErrMissingColumns    = errors.New("missing required columns")
	ErrInvalidUnits      = errors.New("invalid units")
	ErrEmptyDenomination = errors.New("empty denomination")
	ErrEmptyUserID       = errors.New("empty user_id")
	ErrInvalidPrice      = errors.New("invalid price")
)

// MissingColumnsError names the required columns absent from a header.
type MissingColumnsError struct {
	Missing  []string
	Required []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%v: %s (expected: %s)",
		ErrMissingColumns, strings.Join(e.Missing, ", "), strings.Join(e.Required, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// PriceRecord is one row of an uploaded price table.
type PriceRecord struct {
	Denomination string
	Price        decimal.Decimal
}

type Parser interface {
	ParseCSV(filePath string) ([]models.Transaction, error)
	Parse(r io.Reader) ([]models.Transaction, error)
	ParsePrices(r io.Reader) ([]PriceRecord, error)
}

type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) ParseCSV(filePath string) ([]models.Transaction, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads a transactions table. The header is validated before any
// row is decoded, so a schema error never yields partial results.
func (p *CSVParser) Parse(r io.Reader) ([]models.Transaction, error) {
	reader := newReader(r)

	index, err := readHeader(reader, RequiredColumns)
	if err != nil {
		return nil, err
	}

	var transactions []models.Transaction
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading transactions CSV: %w", err)
		}
		if isBlank(record) {
			continue
		}

		txn, err := ParseRecord(record, index)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		transactions = append(transactions, txn)
	}

	return transactions, nil
}

// ParseRecord decodes a single transactions row using the column
// positions resolved from the header.
func ParseRecord(record []string, index map[string]int) (models.Transaction, error) {
	var txn models.Transaction

	txn.TransactionType = field(record, index, ColTransactionType)
	txn.UserID = field(record, index, ColUserID)
	if strings.TrimSpace(txn.UserID) == "" {
		return txn, ErrEmptyUserID
	}
	txn.WalletPublicAddress = field(record, index, ColWalletPublicAddress)
	txn.TransactionDate = field(record, index, ColTransactionDate)

	txn.Denomination = strings.TrimSpace(field(record, index, ColDenomination))
	if txn.Denomination == "" {
		return txn, ErrEmptyDenomination
	}

	raw := strings.TrimSpace(field(record, index, ColUnits))
	units, err := decimal.NewFromString(raw)
	if err != nil {
		return txn, fmt.Errorf("%w: %q", ErrInvalidUnits, raw)
	}
	txn.Units = units

	return txn, nil
}

// ParsePrices reads a price table with denomination and price columns.
func (p *CSVParser) ParsePrices(r io.Reader) ([]PriceRecord, error) {
	reader := newReader(r)

	index, err := readHeader(reader, PriceColumns)
	if err != nil {
		return nil, err
	}

	var records []PriceRecord
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading prices CSV: %w", err)
		}
		if isBlank(record) {
			continue
		}

		line, _ := reader.FieldPos(0)
		denom := strings.TrimSpace(field(record, index, ColDenomination))
		if denom == "" {
			return nil, fmt.Errorf("line %d: %w", line, ErrEmptyDenomination)
		}

		raw := strings.TrimSpace(field(record, index, ColPrice))
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %q", line, ErrInvalidPrice, raw)
		}

		records = append(records, PriceRecord{Denomination: denom, Price: price})
	}

	return records, nil
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	return reader
}

// readHeader reads the header row and maps each required column to its
// position. Names match case-insensitively so a saved crypto_prices.csv
// reads back. Extra columns are ignored.
func readHeader(reader *csv.Reader, required []string) (map[string]int, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Required: required}
	}

	return index, nil
}

func field(record []string, index map[string]int, col string) string {
	i := index[col]
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
