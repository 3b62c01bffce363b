package input

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// selectorFile accepts the misspelled "avaliable_balance" key found in older
// selector files alongside the correct one.
type selectorFile struct {
	types.SelectorConfig
	LegacyBalance string `json:"avaliable_balance"`
}

// LoadSelectors reads and validates a selector JSON file.
func LoadSelectors(path string) (types.SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.SelectorConfig{}, fmt.Errorf("read selector file: %w", err)
	}
	return ParseSelectors(data)
}

// ParseSelectors decodes selector JSON. The correctly spelled balance key wins
// when both are present.
func ParseSelectors(data []byte) (types.SelectorConfig, error) {
	var f selectorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return types.SelectorConfig{}, fmt.Errorf("parse selector file: %w", err)
	}

	cfg := f.SelectorConfig
	if cfg.AvailableBalance == "" {
		cfg.AvailableBalance = f.LegacyBalance
	}
	if err := cfg.Validate(); err != nil {
		return types.SelectorConfig{}, err
	}
	return cfg, nil
}
