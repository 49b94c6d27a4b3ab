package feeder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/torosent/scensim/internal/simerr"
)

// ParseJSON reads a data set from a JSON array of flat objects.
// Values are converted to their string form.
func ParseJSON(name string, r io.Reader) (*DataSet, error) {
	var rawRecords []map[string]interface{}
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&rawRecords); err != nil {
		return nil, simerr.IO("decode JSON %s: %w", name, err)
	}

	if len(rawRecords) == 0 {
		return nil, simerr.IO("JSON %s contains empty array", name)
	}

	columnSet := make(map[string]struct{})
	records := make([]Record, 0, len(rawRecords))
	for i, rawRecord := range rawRecords {
		record := make(Record, len(rawRecord))
		for key, value := range rawRecord {
			if value == nil {
				record[key] = ""
			} else {
				record[key] = fmt.Sprintf("%v", value)
			}
			columnSet[key] = struct{}{}
		}
		if len(record) == 0 {
			return nil, simerr.IO("JSON %s: record %d is empty", name, i)
		}
		records = append(records, record)
	}

	columns := make([]string, 0, len(columnSet))
	for c := range columnSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	return NewDataSet(name, columns, records), nil
}

// LoadJSONFile reads a data set from a JSON file.
func LoadJSONFile(name, path string) (*DataSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, simerr.IO("open JSON file: %w", err)
	}
	defer file.Close()
	ds, err := ParseJSON(name, file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}
