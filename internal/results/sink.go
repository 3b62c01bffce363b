// Package results owns the append-only outcome log.
//
// The log is a CSV file with the header
//
//	username,password,balance,status,error,timestamp
//
// and one row per terminal attempt. Rows are never rewritten; consumers that
// need one row per username take the latest (see Summarize).
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// Header is the column layout of the result log.
var Header = []string{"username", "password", "balance", "status", "error", "timestamp"}

// ErrEmptyUsername is returned when an outcome carries no username.
var ErrEmptyUsername = errors.New("results: empty username")

// Sink appends outcomes to the result log. Appends are serialised; no two rows
// ever interleave.
type Sink struct {
	path  string
	mutex sync.Mutex
	now   func() time.Time
}

// NewSink creates a sink writing to path.
func NewSink(path string) *Sink {
	return &Sink{
		path: path,
		now:  time.Now,
	}
}

// Path returns the log file path.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one row. The header is written when the file is new or empty.
// A zero Timestamp is stamped with the current time.
func (s *Sink) Append(outcome types.Outcome) error {
	if outcome.Username == "" {
		return ErrEmptyUsername
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = s.now()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat results file: %w", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := writer.Write(toRecord(outcome)); err != nil {
		return fmt.Errorf("failed to write result row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush results: %w", err)
	}
	return nil
}

func toRecord(o types.Outcome) []string {
	balance := o.Balance
	if balance == "" {
		balance = types.NoBalance
	}
	return []string{
		o.Username,
		o.Password,
		balance,
		string(o.Status),
		o.Error,
		o.Timestamp.UTC().Format(types.TimestampLayout),
	}
}
