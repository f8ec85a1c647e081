package utils

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/estensen/wallet-valuation/internal/models"
)

// ExtractUniqueDenominations returns the distinct denominations of the
// transactions in first-seen order.
func ExtractUniqueDenominations(transactions []models.Transaction) []string {
	seen := make(map[string]struct{})
	var denominations []string
	for _, txn := range transactions {
		if _, ok := seen[txn.Denomination]; ok {
			continue
		}
		seen[txn.Denomination] = struct{}{}
		denominations = append(denominations, txn.Denomination)
	}
	return denominations
}

// DisplayTable prints a titled table to w.
func DisplayTable(w io.Writer, title string, header []string, rows [][]string) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rows to display.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(toRow(header))
	for _, row := range rows {
		t.AppendRow(toRow(row))
	}

	t.Render()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}
