package insights

import (
	"errors"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ErrMissingDependency indicates the columnar encoder backing insights
// uploads is unavailable. It is translated into a user-facing message
// only at the PutCostInformation boundary.
var ErrMissingDependency = errors.New("insights dependencies not installed")

// Encoder serializes cost rows into a columnar file.
type Encoder interface {
	// EncodeCostFile writes one row per record, with the metric name
	// repeated on every row, to path.
	EncodeCostFile(path string, metricName string, records []CostRecord) error
}

// costRow is the on-disk column layout of one cost record.
type costRow struct {
	OpaqueID   string  `parquet:"opaque_id"`
	Cost       float64 `parquet:"cost"`
	MetricName string  `parquet:"metric_name"`
	QueryID    string  `parquet:"query_id"`
}

// ParquetEncoder writes cost files in parquet format.
type ParquetEncoder struct{}

var _ Encoder = ParquetEncoder{}

// EncodeCostFile writes the cost table to path. An empty record list
// produces a well-formed empty table.
func (ParquetEncoder) EncodeCostFile(path string, metricName string, records []CostRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cost file: %w", err)
	}

	rows := make([]costRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, costRow{
			OpaqueID:   rec.OpaqueID,
			Cost:       rec.Cost,
			MetricName: metricName,
			QueryID:    rec.QueryID,
		})
	}

	w := parquet.NewGenericWriter[costRow](f)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			_ = w.Close()
			_ = f.Close()
			return fmt.Errorf("write cost rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// ReadCostFile loads a cost parquet file back into records plus the
// metric name found on its rows. Used by tests and diagnostics.
func ReadCostFile(path string) ([]CostRecord, string, error) {
	rows, err := parquet.ReadFile[costRow](path)
	if err != nil {
		return nil, "", fmt.Errorf("read cost file: %w", err)
	}
	records := make([]CostRecord, 0, len(rows))
	metricName := ""
	for _, row := range rows {
		records = append(records, CostRecord{
			OpaqueID: row.OpaqueID,
			Cost:     row.Cost,
			QueryID:  row.QueryID,
		})
		metricName = row.MetricName
	}
	return records, metricName, nil
}
