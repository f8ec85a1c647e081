package models

import "github.com/shopspring/decimal"

// Transaction is one row of the uploaded ledger.
type Transaction struct {
	TransactionType     string
	UserID              string
	WalletPublicAddress string
	TransactionDate     string
	Denomination        string
	Units               decimal.Decimal
}

// EnrichedTransaction is a Transaction joined against the price table.
// Price and USDValue are invalid when the denomination has no price.
type EnrichedTransaction struct {
	Transaction
	Price    decimal.NullDecimal
	USDValue decimal.NullDecimal
}

// Holding is the long-form breakdown row for one user and denomination.
type Holding struct {
	UserID       string          `json:"user_id"`
	Denomination string          `json:"denomination"`
	Units        decimal.Decimal `json:"units"`
	USDValue     decimal.Decimal `json:"usd_value"`
}

type UserTotal struct {
	UserID        string          `json:"user_id"`
	TotalUSD      decimal.Decimal `json:"total_usd"`
	WalletAddress string          `json:"wallet_address"`
}

// UserBreakdown is a UserTotal merged with its holdings, one per
// denomination present in the dataset.
type UserBreakdown struct {
	UserTotal
	Holdings []Holding `json:"holdings"`
}

type AssetTotal struct {
	Denomination string          `json:"denomination" ch:"denomination"`
	TotalUnits   decimal.Decimal `json:"total_units" ch:"total_units"`
	TotalUSD     decimal.Decimal `json:"total_usd" ch:"total_usd"`
}

// WalletConflict records a user seen with more than one wallet address.
type WalletConflict struct {
	UserID    string   `json:"user_id"`
	Addresses []string `json:"addresses"`
}
