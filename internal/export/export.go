package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/estensen/wallet-valuation/internal/report"
	"github.com/estensen/wallet-valuation/internal/storage"
)

// Exporter writes report tables as CSV objects.
type Exporter struct {
	storage storage.Storage
	prefix  string
	logger  *log.Logger
}

func NewExporter(s storage.Storage, prefix string, logger *log.Logger) *Exporter {
	return &Exporter{
		storage: s,
		prefix:  prefix,
		logger:  logger,
	}
}

// RunPrefix names a unique folder for one run, e.g. "runs/2024-04-02/<uuid>".
func RunPrefix(now time.Time) string {
	return path.Join("runs", now.Format("2006-01-02"), uuid.NewString())
}

// Export uploads every table and returns where each one was written.
func (e *Exporter) Export(ctx context.Context, tables []report.Table) ([]string, error) {
	locations := make([]string, 0, len(tables))
	for _, table := range tables {
		var buf bytes.Buffer
		if err := table.WriteCSV(&buf); err != nil {
			return locations, fmt.Errorf("error encoding %s: %w", table.FileName, err)
		}

		objectName := path.Join(e.prefix, table.FileName)
		if err := e.storage.UploadFile(ctx, objectName, &buf); err != nil {
			return locations, fmt.Errorf("error exporting %s: %w", table.FileName, err)
		}

		location := e.storage.Location(objectName)
		e.logger.Info("exported", "table", table.Title, "rows", len(table.Rows), "location", location)
		locations = append(locations, location)
	}
	return locations, nil
}
