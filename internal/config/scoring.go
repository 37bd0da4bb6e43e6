package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/repost-scheduler/internal/model"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
)

// scoringFile is the on-disk shape of SCORING_CONFIG_PATH.  Omitted
// sections keep their defaults.
//
//	weights:
//	  family_match: 40
//	  reach_factor_cap: 0.25
//	tiers:
//	  breakpoints: [1000, 10000, 50000, 250000]
//	  default_reach: [0.10, 0.08, 0.06, 0.05, 0.04]
type scoringFile struct {
	Weights *scoring.Weights `yaml:"weights"`
	Tiers   *struct {
		Breakpoints  []int64   `yaml:"breakpoints"`
		DefaultReach []float64 `yaml:"default_reach"`
	} `yaml:"tiers"`
}

// LoadScoring returns scoring weights and the tier table.  An empty path
// yields the defaults; a file that fails to parse or validate is an error.
func LoadScoring(path string) (scoring.Weights, model.TierTable, error) {
	w := scoring.DefaultWeights()
	tt := model.DefaultTierTable()
	if path == "" {
		return w, tt, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return w, tt, fmt.Errorf("read scoring config: %w", err)
	}
	return ParseScoring(raw)
}

// ParseScoring decodes a scoring YAML document over the defaults.
func ParseScoring(raw []byte) (scoring.Weights, model.TierTable, error) {
	w := scoring.DefaultWeights()
	tt := model.DefaultTierTable()
	f := scoringFile{Weights: &w}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return w, tt, fmt.Errorf("parse scoring config: %w", err)
	}
	if f.Weights != nil {
		w = *f.Weights
	}
	if f.Tiers != nil {
		if f.Tiers.Breakpoints != nil {
			tt.Breakpoints = f.Tiers.Breakpoints
		}
		if f.Tiers.DefaultReach != nil {
			tt.DefaultReach = f.Tiers.DefaultReach
		}
	}
	if err := w.Validate(); err != nil {
		return w, tt, fmt.Errorf("scoring weights: %w", err)
	}
	if err := tt.Validate(); err != nil {
		return w, tt, fmt.Errorf("tier table: %w", err)
	}
	return w, tt, nil
}
