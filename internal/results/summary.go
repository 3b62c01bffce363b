package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// Summary is the read-side view of a result log.
type Summary struct {
	Rows     int                      // data rows, header excluded
	ByStatus map[types.Status]int     // rows per status
	Latest   map[string]types.Outcome // last row per username
}

// LatestByStatus counts usernames by the status of their most recent row.
func (s Summary) LatestByStatus() map[types.Status]int {
	counts := make(map[types.Status]int)
	for _, o := range s.Latest {
		counts[o.Status]++
	}
	return counts
}

// Summarize reads the log at path. A missing file yields an empty summary.
func Summarize(path string) (Summary, error) {
	summary := Summary{
		ByStatus: make(map[types.Status]int),
		Latest:   make(map[string]types.Outcome),
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return summary, nil
		}
		return summary, fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read results file: %w", err)
		}
		if first {
			first = false
			if len(record) > 0 && record[0] == Header[0] {
				continue
			}
		}
		if len(record) < len(Header) {
			continue // skip malformed rows
		}

		outcome := types.Outcome{
			Username: record[0],
			Password: record[1],
			Balance:  record[2],
			Status:   types.Status(record[3]),
			Error:    record[4],
		}
		if ts, err := time.ParseInLocation(types.TimestampLayout, record[5], time.UTC); err == nil {
			outcome.Timestamp = ts
		}

		summary.Rows++
		summary.ByStatus[outcome.Status]++
		summary.Latest[outcome.Username] = outcome
	}
	return summary, nil
}
