package discussions

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rappterbook/rappterd/internal/state"
)

// DataFile is a saved snapshot of live discussions.
type DataFile struct {
	Discussions []Record `json:"discussions"`
	FetchedAt   string   `json:"fetched_at,omitempty"`
}

// ReadDataFile loads a snapshot. A missing file yields no records.
func ReadDataFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	var df DataFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	if df.Discussions == nil {
		df.Discussions = []Record{}
	}
	return df.Discussions, nil
}

// WriteDataFile saves records so later jobs can run without refetching.
func WriteDataFile(path string, records []Record, fetchedAt string) error {
	return state.WriteJSON(path, DataFile{Discussions: records, FetchedAt: fetchedAt})
}
