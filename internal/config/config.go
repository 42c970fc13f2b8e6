// Package config loads the per-ladder strategy file. Prices, ratios, and
// funds are written as decimal strings in YAML and converted once into the
// engine's fixed-point scales; nothing downstream ever touches floats.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"GridLadder/internal/engine"
	"GridLadder/internal/fixed"
	"GridLadder/internal/ladder"
)

// Duration parses YAML values like "10m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Strategy is one ladder's YAML definition.
type Strategy struct {
	LadderID   string `yaml:"ladder_id"`
	Symbol     string `yaml:"symbol"`
	ShardToken string `yaml:"shard_token"`
	Accounts   int    `yaml:"accounts"`

	Ratio       string `yaml:"ratio"`
	Arithmetic  bool   `yaml:"arithmetic"`
	Step        string `yaml:"step"`
	FillingStep string `yaml:"filling_step"`
	LowerSpace  string `yaml:"lower_space"`
	UpperBound  string `yaml:"upper_bound"`
	Fund        string `yaml:"fund"`
	LotSize     string `yaml:"lot_size"`
	PriceTick   string `yaml:"price_tick"`

	TriggerPrice  string `yaml:"trigger_price"`
	AssignedEntry string `yaml:"assigned_entry"`
	BufferStairs  int    `yaml:"buffer_stairs"`

	IdleTimeout      Duration `yaml:"idle_timeout"`
	MaintenanceEvery Duration `yaml:"maintenance_every"`
	ReportEvery      Duration `yaml:"report_every"`

	RelaySpacingMultiplier int64  `yaml:"relay_spacing_multiplier"`
	DriftMateriality       int64  `yaml:"drift_materiality"`
	ReversalBatchThreshold int    `yaml:"reversal_batch_threshold"`
	FeeRatio               string `yaml:"fee_ratio"`
	InboxSize              int    `yaml:"inbox_size"`
}

// File is the top-level strategy document.
type File struct {
	Strategies []Strategy `yaml:"strategies"`
}

// Load reads and validates a strategy file. Unknown keys are an error; a
// typo in a trading parameter must not silently become a default.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open strategy file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var out File
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse strategy file %s: %w", path, err)
	}
	if len(out.Strategies) == 0 {
		return nil, fmt.Errorf("strategy file %s defines no strategies", path)
	}
	for i := range out.Strategies {
		if err := out.Strategies[i].validate(); err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
	}
	return &out, nil
}

func (s *Strategy) validate() error {
	if s.LadderID == "" {
		return fmt.Errorf("ladder_id is required")
	}
	if s.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if s.UpperBound == "" {
		return fmt.Errorf("upper_bound is required")
	}
	if s.Fund == "" {
		return fmt.Errorf("fund is required")
	}
	if !s.Arithmetic && s.Ratio == "" {
		return fmt.Errorf("ratio is required for a geometric ladder")
	}
	if s.Arithmetic && s.Step == "" {
		return fmt.Errorf("step is required for an arithmetic ladder")
	}
	if s.Accounts < 0 {
		return fmt.Errorf("accounts must be >= 0")
	}
	return nil
}

// EngineConfig converts the strategy into the engine's fixed-point config.
func (s *Strategy) EngineConfig() (engine.Config, error) {
	var err error
	p := func(name, v string, scale int64) int64 {
		if err != nil || v == "" {
			return 0
		}
		var out int64
		out, err = parseScaled(v, scale)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return out
	}

	lad := ladder.Config{
		Symbol:        s.Symbol,
		Ratio:         p("ratio", s.Ratio, fixed.RatioConfig.Scale),
		Arithmetic:    s.Arithmetic,
		Step:          p("step", s.Step, fixed.PriceConfig.Scale),
		FillingStep:   p("filling_step", s.FillingStep, fixed.RatioConfig.Scale),
		LowerSpace:    p("lower_space", s.LowerSpace, fixed.RatioConfig.Scale),
		UpperBound:    p("upper_bound", s.UpperBound, fixed.PriceConfig.Scale),
		Fund:          p("fund", s.Fund, fixed.QuoteConfig.Scale),
		LotSize:       p("lot_size", s.LotSize, fixed.RatioConfig.Scale),
		PriceTick:     p("price_tick", s.PriceTick, fixed.PriceConfig.Scale),
		TriggerPrice:  p("trigger_price", s.TriggerPrice, fixed.PriceConfig.Scale),
		AssignedEntry: p("assigned_entry", s.AssignedEntry, fixed.PriceConfig.Scale),
		BufferStairs:  s.BufferStairs,
	}
	if lad.LotSize == 0 {
		lad.LotSize = fixed.RatioOne
	}
	feeRatio := p("fee_ratio", s.FeeRatio, fixed.RatioConfig.Scale)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		LadderID:               s.LadderID,
		Symbol:                 s.Symbol,
		ShardToken:             s.ShardToken,
		Ladder:                 lad,
		IdleTimeout:            time.Duration(s.IdleTimeout),
		MaintenanceEvery:       time.Duration(s.MaintenanceEvery),
		ReportEvery:            time.Duration(s.ReportEvery),
		RelaySpacingMultiplier: s.RelaySpacingMultiplier,
		DriftMateriality:       s.DriftMateriality,
		ReversalBatchThreshold: s.ReversalBatchThreshold,
		FeeRatio:               feeRatio,
		InboxSize:              s.InboxSize,
	}, nil
}

// parseScaled converts a decimal string to a scaled integer, rejecting
// values that lose precision at the target scale.
func parseScaled(v string, scale int64) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", v, err)
	}
	scaled := d.Mul(decimal.NewFromInt(scale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%q has more precision than scale %d allows", v, scale)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%q overflows at scale %d", v, scale)
	}
	return scaled.IntPart(), nil
}
