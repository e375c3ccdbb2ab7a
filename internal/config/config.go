// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds service settings. The daily activity parameters live in
// ActivityStore since they are edited at runtime.
type Config struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	CheckInURL         string        `mapstructure:"check_in_url"`
	ListenAddr         string        `mapstructure:"listen_addr"`
	DatabasePath       string        `mapstructure:"database_path"`
	LogLevel           string        `mapstructure:"log_level"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
	ReceiptTimeout     time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPoll        time.Duration `mapstructure:"receipt_poll"`

	Files     Files          `mapstructure:"files"`
	Contracts Contracts      `mapstructure:"contracts"`
	Tokens    []Token        `mapstructure:"tokens"`
	Provider  ProviderConfig `mapstructure:"provider"`
	Swap      SwapConfig     `mapstructure:"swap"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
}

// Files locates the operator-maintained inputs.
type Files struct {
	Accounts string `mapstructure:"accounts"`
	Proxies  string `mapstructure:"proxies"`
	Activity string `mapstructure:"activity"`
}

// Contracts holds the on-chain addresses the engine calls.
type Contracts struct {
	WrappedNative string `mapstructure:"wrapped_native"`
	SwapRouter    string `mapstructure:"swap_router"`
	TokenFactory  string `mapstructure:"token_factory"`
	DeployRouter  string `mapstructure:"deploy_router"`
}

// Token is a swappable ERC20. Precision is the number of decimal places
// randomized swap amounts are rounded to.
type Token struct {
	Symbol    string `mapstructure:"symbol"`
	Address   string `mapstructure:"address"`
	Decimals  uint8  `mapstructure:"decimals"`
	Precision int32  `mapstructure:"precision"`
}

// ProviderConfig tunes chain connections.
type ProviderConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SwapConfig tunes swap encoding. AmountOutMinimum is in the output token's
// smallest unit; zero disables slippage protection.
type SwapConfig struct {
	PoolFee          uint32        `mapstructure:"pool_fee"`
	Deadline         time.Duration `mapstructure:"deadline"`
	AmountOutMinimum string        `mapstructure:"amount_out_minimum"`
	NativeSymbol     string        `mapstructure:"native_symbol"`
	NativePrecision  int32         `mapstructure:"native_precision"`
}

// ScheduleConfig tunes the cycle scheduler.
type ScheduleConfig struct {
	SwapDelayMin time.Duration `mapstructure:"swap_delay_min"`
	SwapDelayMax time.Duration `mapstructure:"swap_delay_max"`
	AccountDelay time.Duration `mapstructure:"account_delay"`
	Reschedule   time.Duration `mapstructure:"reschedule"`
	StopPoll     time.Duration `mapstructure:"stop_poll"`
	AutoStart    string        `mapstructure:"autostart"`
	StartOnBoot  bool          `mapstructure:"start_on_boot"`
}

// Defaults
const (
	DefaultRPCURL         = "https://testnet-rpc.xoscan.io/"
	DefaultChainID        = 1267
	DefaultCheckInURL     = "https://api.x.ink/v1/check-in"
	DefaultListenAddr     = ":3001"
	DefaultDatabasePath   = "./data/activity.db"
	DefaultLogLevel       = "info"
	DefaultReceiptTimeout = 5 * time.Minute
	DefaultReceiptPoll    = 2 * time.Second

	DefaultWrappedNative = "0x0AAB67cf6F2e99847b9A95DeC950B250D648c1BB"
	DefaultSwapRouter    = "0xdc7D6b58c89A554b3FDC4B5B10De9b4DbF39FB40"
	DefaultTokenFactory  = "0xEBB7781329f101F0FDBC90A3B6f211082863884B"
	DefaultDeployRouter  = "0x45aE5Fb74828FDf9fD708C7491dC84543ec8A87e"
	DefaultUSDCAddress   = "0xb2C1C007421f0Eb5f4B3b3F38723C309Bb208d7d"
	DefaultBNBAddress    = "0x83DFbE02dc1B1Db11bc13a8Fc7fd011E2dBbd7c0"

	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultRPCTimeout = 30 * time.Second
	DefaultRPS        = 5.0
	DefaultBurst      = 5

	DefaultPoolFee      = 500
	DefaultPrecision    = 4
	DefaultSwapDeadline = 20 * time.Minute

	DefaultSwapDelayMin = 30 * time.Second
	DefaultSwapDelayMax = 60 * time.Second
	DefaultAccountDelay = 10 * time.Second
	DefaultReschedule   = 24 * time.Hour
	DefaultStopPoll     = time.Second
)

// DefaultTokens returns the swappable tokens of the XOS testnet.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "USDC", Address: DefaultUSDCAddress, Decimals: 18, Precision: 4},
		{Symbol: "BNB", Address: DefaultBNBAddress, Decimals: 18, Precision: 5},
	}
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"rpc_url":              DefaultRPCURL,
		"chain_id":             DefaultChainID,
		"check_in_url":         DefaultCheckInURL,
		"listen_addr":          DefaultListenAddr,
		"database_path":        DefaultDatabasePath,
		"log_level":            DefaultLogLevel,
		"cors_allowed_origins": "*",
		"receipt_timeout":      DefaultReceiptTimeout,
		"receipt_poll":         DefaultReceiptPoll,

		"files.accounts": "account.json",
		"files.proxies":  "proxy.txt",
		"files.activity": "config.json",

		"contracts.wrapped_native": DefaultWrappedNative,
		"contracts.swap_router":    DefaultSwapRouter,
		"contracts.token_factory":  DefaultTokenFactory,
		"contracts.deploy_router":  DefaultDeployRouter,

		"provider.max_retries":         DefaultMaxRetries,
		"provider.retry_delay":         DefaultRetryDelay,
		"provider.timeout":             DefaultRPCTimeout,
		"provider.requests_per_second": DefaultRPS,
		"provider.burst":               DefaultBurst,

		"swap.pool_fee":           DefaultPoolFee,
		"swap.deadline":           DefaultSwapDeadline,
		"swap.amount_out_minimum": "0",
		"swap.native_symbol":      "XOS",
		"swap.native_precision":   DefaultPrecision,

		"schedule.swap_delay_min": DefaultSwapDelayMin,
		"schedule.swap_delay_max": DefaultSwapDelayMax,
		"schedule.account_delay":  DefaultAccountDelay,
		"schedule.reschedule":     DefaultReschedule,
		"schedule.stop_poll":      DefaultStopPoll,
		"schedule.autostart":      "",
		"schedule.start_on_boot":  false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Flags defines the command-line flags that override settings.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("xosactivity", pflag.ContinueOnError)
	fs.String("settings", "", "Optional settings file (yaml, json or toml)")
	fs.String("rpc-url", DefaultRPCURL, "Chain JSON-RPC URL")
	fs.Int64("chain-id", DefaultChainID, "Expected chain ID")
	fs.String("listen", DefaultListenAddr, "HTTP API listen address")
	fs.String("database", DefaultDatabasePath, "SQLite database path")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.String("accounts", "account.json", "Accounts file")
	fs.String("proxies", "proxy.txt", "Proxy list file")
	fs.String("activity-config", "config.json", "Daily activity config file")
	fs.String("autostart", "", "Cron expression that starts a cycle (empty disables)")
	fs.Bool("start", false, "Start a cycle immediately")
	return fs
}

var flagKeys = map[string]string{
	"rpc-url":         "rpc_url",
	"chain-id":        "chain_id",
	"listen":          "listen_addr",
	"database":        "database_path",
	"log-level":       "log_level",
	"accounts":        "files.accounts",
	"proxies":         "files.proxies",
	"activity-config": "files.activity",
	"autostart":       "schedule.autostart",
	"start":           "schedule.start_on_boot",
}

// Load resolves settings from defaults, an optional settings file, XOS_*
// environment variables and command-line flags, in increasing precedence.
// A .env file in the working directory is loaded into the environment
// first; variables already set win.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("XOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	if path, _ := fs.GetString("settings"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = DefaultTokens()
	}
	for i := range cfg.Tokens {
		if cfg.Tokens[i].Precision == 0 {
			cfg.Tokens[i].Precision = min(DefaultPrecision, int32(cfg.Tokens[i].Decimals))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings without reading any source.
func Default() *Config {
	cfg, err := Load(nil)
	if err != nil {
		panic(fmt.Sprintf("default settings invalid: %v", err))
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validateURL(c.RPCURL, "http"); err != nil {
		return fmt.Errorf("rpc_url: %w", err)
	}
	if err := validateURL(c.CheckInURL, "http"); err != nil {
		return fmt.Errorf("check_in_url: %w", err)
	}
	if c.ChainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	for name, addr := range map[string]string{
		"wrapped_native": c.Contracts.WrappedNative,
		"swap_router":    c.Contracts.SwapRouter,
		"token_factory":  c.Contracts.TokenFactory,
		"deploy_router":  c.Contracts.DeployRouter,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("contracts.%s: invalid address %q", name, addr)
		}
	}
	if len(c.Tokens) == 0 {
		return errors.New("at least one swap token is required")
	}
	seen := make(map[string]bool)
	for _, t := range c.Tokens {
		sym := strings.ToUpper(t.Symbol)
		if sym == "" {
			return errors.New("token symbol is required")
		}
		if seen[sym] {
			return fmt.Errorf("duplicate token %s", sym)
		}
		seen[sym] = true
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("token %s: invalid address %q", sym, t.Address)
		}
		if t.Precision > int32(t.Decimals) || (t.Precision < 1 && t.Decimals > 0) {
			return fmt.Errorf("token %s: precision must be between 1 and decimals", sym)
		}
	}
	if c.Provider.MaxRetries < 1 {
		return errors.New("provider.max_retries must be at least 1")
	}
	if c.Provider.RequestsPerSecond <= 0 {
		return errors.New("provider.requests_per_second must be positive")
	}
	if c.ReceiptTimeout <= 0 || c.ReceiptPoll <= 0 {
		return errors.New("receipt timeout and poll interval must be positive")
	}
	if c.Swap.NativePrecision < 1 || c.Swap.NativePrecision > 18 {
		return errors.New("swap.native_precision must be between 1 and 18")
	}
	if c.Swap.Deadline <= 0 {
		return errors.New("swap.deadline must be positive")
	}
	if c.Schedule.SwapDelayMin < 0 || c.Schedule.SwapDelayMax < c.Schedule.SwapDelayMin {
		return errors.New("schedule swap delay range is invalid")
	}
	if c.Schedule.Reschedule <= 0 || c.Schedule.StopPoll <= 0 {
		return errors.New("schedule reschedule and stop_poll must be positive")
	}
	return nil
}

func validateURL(raw, protocol string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return fmt.Errorf("invalid URL %q", raw)
	}
	return nil
}
