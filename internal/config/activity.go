package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Range is an inclusive amount range in whole units.
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

// DailyActivityConfig controls what a cycle does for each account.
type DailyActivityConfig struct {
	SwapRepetitions int              `mapstructure:"swapRepetitions" json:"swapRepetitions"`
	XOSSwapRange    Range            `mapstructure:"xosSwapRange" json:"xosSwapRange"`
	TokenSwapRanges map[string]Range `mapstructure:"tokenSwapRanges" json:"tokenSwapRanges"`
}

// DefaultActivityConfig returns the built-in activity parameters.
func DefaultActivityConfig() DailyActivityConfig {
	return DailyActivityConfig{
		SwapRepetitions: 1,
		XOSSwapRange:    Range{Min: 0.001, Max: 0.004},
		TokenSwapRanges: map[string]Range{
			"USDC": {Min: 0.02, Max: 0.045},
			"BNB":  {Min: 0.0003, Max: 0.00075},
		},
	}
}

// Clone returns a deep copy.
func (c DailyActivityConfig) Clone() DailyActivityConfig {
	out := c
	out.TokenSwapRanges = make(map[string]Range, len(c.TokenSwapRanges))
	for k, v := range c.TokenSwapRanges {
		out.TokenSwapRanges[k] = v
	}
	return out
}

// TokenRange returns the range configured for symbol, case-insensitively.
func (c DailyActivityConfig) TokenRange(symbol string) (Range, bool) {
	r, ok := c.TokenSwapRanges[strings.ToUpper(symbol)]
	return r, ok
}

// withDefaults fills missing or zero fields from the defaults and
// upper-cases token symbols.
func (c DailyActivityConfig) withDefaults() DailyActivityConfig {
	def := DefaultActivityConfig()
	out := c.Clone()

	if out.SwapRepetitions <= 0 {
		out.SwapRepetitions = def.SwapRepetitions
	}
	out.XOSSwapRange = fillRange(out.XOSSwapRange, def.XOSSwapRange)

	ranges := make(map[string]Range, len(out.TokenSwapRanges))
	for sym, r := range out.TokenSwapRanges {
		ranges[strings.ToUpper(sym)] = r
	}
	for sym, d := range def.TokenSwapRanges {
		ranges[sym] = fillRange(ranges[sym], d)
	}
	out.TokenSwapRanges = ranges
	return out
}

func fillRange(r, def Range) Range {
	if r.Min <= 0 {
		r.Min = def.Min
	}
	if r.Max <= 0 {
		r.Max = def.Max
	}
	return r
}

// Validate enforces swapRepetitions >= 1 and 0 < min <= max for every range.
func (c DailyActivityConfig) Validate() error {
	if c.SwapRepetitions < 1 {
		return fmt.Errorf("swapRepetitions must be at least 1, got %d", c.SwapRepetitions)
	}
	if err := validateRange("xosSwapRange", c.XOSSwapRange); err != nil {
		return err
	}
	syms := make([]string, 0, len(c.TokenSwapRanges))
	for sym := range c.TokenSwapRanges {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		if err := validateRange("tokenSwapRanges."+sym, c.TokenSwapRanges[sym]); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(name string, r Range) error {
	if r.Min <= 0 {
		return fmt.Errorf("%s: min must be positive, got %g", name, r.Min)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%s: min %g exceeds max %g", name, r.Min, r.Max)
	}
	return nil
}

// ToAPI converts to the public wire form.
func (c DailyActivityConfig) ToAPI() types.ActivityConfig {
	out := types.ActivityConfig{
		SwapRepetitions: c.SwapRepetitions,
		XOSSwapRange:    types.Range{Min: c.XOSSwapRange.Min, Max: c.XOSSwapRange.Max},
		TokenSwapRanges: make(map[string]types.Range, len(c.TokenSwapRanges)),
	}
	for k, v := range c.TokenSwapRanges {
		out.TokenSwapRanges[k] = types.Range{Min: v.Min, Max: v.Max}
	}
	return out
}

// ActivityConfigFromAPI converts from the public wire form.
func ActivityConfigFromAPI(in types.ActivityConfig) DailyActivityConfig {
	out := DailyActivityConfig{
		SwapRepetitions: in.SwapRepetitions,
		XOSSwapRange:    Range{Min: in.XOSSwapRange.Min, Max: in.XOSSwapRange.Max},
		TokenSwapRanges: make(map[string]Range, len(in.TokenSwapRanges)),
	}
	for k, v := range in.TokenSwapRanges {
		out.TokenSwapRanges[strings.ToUpper(k)] = Range{Min: v.Min, Max: v.Max}
	}
	return out
}

// ActivityStore owns the daily activity configuration file. Readers get
// copies; only Save mutates.
type ActivityStore struct {
	mu     sync.RWMutex
	path   string
	cfg    DailyActivityConfig
	logger *slog.Logger
}

// NewActivityStore creates a store holding the defaults until Load is called.
func NewActivityStore(path string, logger *slog.Logger) *ActivityStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityStore{
		path:   path,
		cfg:    DefaultActivityConfig(),
		logger: logger,
	}
}

// Load reads the file. A missing file keeps the defaults and is not an
// error. A malformed file keeps the defaults and returns the error so the
// caller can report it.
func (s *ActivityStore) Load() error {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("No config file found, using default settings", slog.String("path", s.path))
		return nil
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		s.logger.Error("Failed to load config", slog.String("path", s.path), slog.String("error", err.Error()))
		return fmt.Errorf("read activity config: %w", err)
	}

	var cfg DailyActivityConfig
	if err := v.Unmarshal(&cfg); err != nil {
		s.logger.Error("Failed to load config", slog.String("path", s.path), slog.String("error", err.Error()))
		return fmt.Errorf("decode activity config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		s.logger.Error("Config file rejected, using defaults", slog.String("error", err.Error()))
		return fmt.Errorf("validate activity config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info("Loaded activity config",
		slog.String("path", s.path),
		slog.Int("swapRepetitions", cfg.SwapRepetitions),
	)
	return nil
}

// Current returns a copy of the active configuration.
func (s *ActivityStore) Current() DailyActivityConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Save validates cfg, writes it and makes it current. Zero fields are
// filled from defaults first; an inverted range is rejected.
func (s *ActivityStore) Save(cfg DailyActivityConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return errs.InvalidInput("config", "%s", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode activity config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write activity config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace activity config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.logger.Info("Configuration saved successfully", slog.String("path", s.path))
	return nil
}
