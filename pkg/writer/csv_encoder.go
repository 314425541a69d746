package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
)

// CSVEncoder is the default Encoder implementation. The spec treats the
// production columnar file encoder as an opaque external collaborator, so
// this adapter exists to make the writer pool independently testable and
// runnable without that collaborator; it is not meant to be the
// production format.
type CSVEncoder struct{}

func (CSVEncoder) EncodeFile(path string, rows []Row) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	columns := unionColumns(rows)
	if err := w.Write(columns); err != nil {
		return 0, err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = fmt.Sprintf("%v", row[col])
		}
		if err := w.Write(record); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func unionColumns(rows []Row) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}
