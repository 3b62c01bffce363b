// Package input reads the two operator-supplied files: the account list and
// the per-site selector configuration.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// ErrMissingColumn is returned when the accounts header lacks a required column.
var ErrMissingColumn = errors.New("accounts file is missing a required column")

// ReadAccountsFile reads accounts from a CSV file.
func ReadAccountsFile(path string) ([]types.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	accounts, err := ReadAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return accounts, nil
}

// ReadAccounts parses a CSV with a header row naming at least "username" and
// "password" (any order, case-insensitive, extra columns ignored). Rows with a
// blank username are skipped. Order is preserved so sharding is stable.
func ReadAccounts(r io.Reader) ([]types.Account, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	userCol, passCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "username":
			userCol = i
		case "password":
			passCol = i
		}
	}
	if userCol < 0 {
		return nil, fmt.Errorf("%w: username", ErrMissingColumn)
	}
	if passCol < 0 {
		return nil, fmt.Errorf("%w: password", ErrMissingColumn)
	}

	var accounts []types.Account
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		username := strings.TrimSpace(field(record, userCol))
		if username == "" {
			continue
		}
		accounts = append(accounts, types.Account{
			Username: username,
			Password: field(record, passCol),
		})
	}
	return accounts, nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
