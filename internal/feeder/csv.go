package feeder

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/torosent/scensim/internal/simerr"
)

// ParseCSV reads a data set from CSV content. The first row is the header
// containing field names; at least one data row is required.
func ParseCSV(name string, r io.Reader) (*DataSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, simerr.IO("read CSV %s: %w", name, err)
	}

	if len(rows) == 0 {
		return nil, simerr.IO("CSV %s is empty", name)
	}

	if len(rows) < 2 {
		return nil, simerr.IO("CSV %s must have at least one header row and one data row", name)
	}

	header := make([]string, len(rows[0]))
	for i, field := range rows[0] {
		header[i] = strings.TrimSpace(field)
		if header[i] == "" {
			return nil, simerr.IO("CSV %s: header column %d is blank", name, i+1)
		}
	}
	dataRows := rows[1:]

	records := make([]Record, 0, len(dataRows))
	for i, row := range dataRows {
		if len(row) != len(header) {
			return nil, simerr.IO("CSV %s: row %d has %d fields, expected %d", name, i+2, len(row), len(header))
		}

		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}

	return NewDataSet(name, header, records), nil
}

// LoadCSVFile reads a data set from a CSV file.
func LoadCSVFile(name, path string) (*DataSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, simerr.IO("open CSV file: %w", err)
	}
	defer file.Close()
	ds, err := ParseCSV(name, file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}
