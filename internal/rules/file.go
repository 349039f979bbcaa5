package rules

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"signalExecBot/internal/domain"
)

// FileConfig is the on-disk layout of the rule table.
//
//	default_max_leverage: 5
//	symbols:
//	  - symbol: BTC
//	    lot_size: 0.00001
//	    tick_size: 1
//	    max_leverage: 50
type FileConfig struct {
	DefaultMaxLeverage int                        `yaml:"default_max_leverage"`
	Symbols            []domain.SymbolTradingRule `yaml:"symbols"`
}

// FileLoader reads the rule table from a YAML file.
type FileLoader struct {
	Path string
	// DefaultMaxLeverage applies when neither the rule nor the file sets one.
	DefaultMaxLeverage int
}

// Load reads and decodes the file. Rules without max_leverage inherit the default.
func (l FileLoader) Load(ctx context.Context) ([]domain.SymbolTradingRule, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", l.Path, err)
	}
	rules, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].MaxLeverage == 0 {
			rules[i].MaxLeverage = l.DefaultMaxLeverage
		}
	}
	return rules, nil
}

// ParseYAML decodes a rule table document.
func ParseYAML(data []byte) ([]domain.SymbolTradingRule, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	out := make([]domain.SymbolTradingRule, 0, len(cfg.Symbols))
	for _, r := range cfg.Symbols {
		if r.MaxLeverage == 0 {
			r.MaxLeverage = cfg.DefaultMaxLeverage
		}
		out = append(out, r)
	}
	return out, nil
}

// WriteYAML encodes rules in the layout FileLoader reads.
func WriteYAML(w io.Writer, defaultMaxLeverage int, rules []domain.SymbolTradingRule) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FileConfig{DefaultMaxLeverage: defaultMaxLeverage, Symbols: rules}); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return enc.Close()
}
