package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/danthegoodman1/icetable/parquet_accumulator"
	"github.com/xitongsys/parquet-go/writer"
)

const SpecColumnPrefix = "spec_"

// StatisticsRow flattens s into one parquet row. Partition spec values become
// `spec_<column>` columns.
func StatisticsRow(s PartitionStatistics) map[string]any {
	row := map[string]any{
		"partition":               string(s.Partition),
		"record_count":            s.RecordCount,
		"file_size_in_bytes":      s.FileSizeInBytes,
		"file_count":              s.FileCount,
		"last_file_creation_time": s.LastFileCreationTime,
	}
	for col, val := range s.Spec {
		row[SpecColumnPrefix+columnName(col)] = val
	}
	return row
}

// ExportStatistics writes stats to w as a parquet file. The schema is inferred
// from the rows, so partitions of different specs share one file.
func ExportStatistics(w io.Writer, stats []PartitionStatistics) error {
	accumulator := parquet_accumulator.NewParquetAccumulator()
	rows := make([]map[string]any, 0, len(stats))
	for _, s := range stats {
		row := StatisticsRow(s)
		accumulator.WriteRow(row)
		rows = append(rows, row)
	}

	parquetSchema, err := accumulator.GetSchemaString()
	if err != nil {
		return fmt.Errorf("error in GetSchemaString: %w", err)
	}
	pw, err := writer.NewJSONWriterFromWriter(parquetSchema, w, 4)
	if err != nil {
		return fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}

	for _, row := range rows {
		rowBytes, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("error in json.Marshal of stats row: %w", err)
		}
		if err = pw.Write(string(rowBytes)); err != nil {
			return fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}

// ToStatistics converts entries in order, failing on the first malformed partition.
func ToStatistics(entries []PartitionEntry) ([]PartitionStatistics, error) {
	stats := make([]PartitionStatistics, 0, len(entries))
	for _, e := range entries {
		s, err := e.ToStatistics()
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Partition < stats[j].Partition })
	return stats, nil
}

// columnName keeps parquet column names to [a-zA-Z0-9_]
func columnName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
