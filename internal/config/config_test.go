package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.EqualValues(t, DefaultChainID, cfg.ChainID)
	assert.Equal(t, DefaultSwapRouter, cfg.Contracts.SwapRouter)
	assert.Equal(t, DefaultReceiptTimeout, cfg.ReceiptTimeout)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.Reschedule)
	assert.Equal(t, "0", cfg.Swap.AmountOutMinimum)
	require.Len(t, cfg.Tokens, 2)
	assert.Equal(t, "USDC", cfg.Tokens[0].Symbol)
	assert.EqualValues(t, 5, cfg.Tokens[1].Precision)
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load([]string{"--chain-id", "42", "--listen", ":9000", "--start", "--autostart", "0 8 * * *"})
	require.NoError(t, err)

	assert.EqualValues(t, 42, cfg.ChainID)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.True(t, cfg.Schedule.StartOnBoot)
	assert.Equal(t, "0 8 * * *", cfg.Schedule.AutoStart)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XOS_RPC_URL", "http://localhost:8545")
	t.Setenv("XOS_PROVIDER_MAX_RETRIES", "5")
	t.Setenv("XOS_RECEIPT_TIMEOUT", "90s")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, 5, cfg.Provider.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.ReceiptTimeout)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := `
chain_id: 7
swap:
  amount_out_minimum: "1000"
tokens:
  - symbol: DAI
    address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    decimals: 18
    precision: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load([]string{"--settings", path})
	require.NoError(t, err)

	assert.EqualValues(t, 7, cfg.ChainID)
	assert.Equal(t, "1000", cfg.Swap.AmountOutMinimum)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, "DAI", cfg.Tokens[0].Symbol)
}

func TestLoadSettingsFileDefaultsPrecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	body := `
tokens:
  - symbol: USDC
    address: "0xb2C1C007421f0Eb5f4B3b3F38723C309Bb208d7d"
    decimals: 18
  - symbol: CENT
    address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    decimals: 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load([]string{"--settings", path})
	require.NoError(t, err)

	require.Len(t, cfg.Tokens, 2)
	assert.EqualValues(t, DefaultPrecision, cfg.Tokens[0].Precision)
	assert.EqualValues(t, 2, cfg.Tokens[1].Precision, "capped at decimals")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad rpc url", func(c *Config) { c.RPCURL = "ftp://x" }, true},
		{"zero chain id", func(c *Config) { c.ChainID = 0 }, true},
		{"bad router", func(c *Config) { c.Contracts.SwapRouter = "0x12" }, true},
		{"no tokens", func(c *Config) { c.Tokens = nil }, true},
		{"duplicate token", func(c *Config) { c.Tokens = append(c.Tokens, c.Tokens[0]) }, true},
		{"precision above decimals", func(c *Config) { c.Tokens[0].Precision = 19 }, true},
		{"zero precision", func(c *Config) { c.Tokens[0].Precision = 0 }, true},
		{"zero native precision", func(c *Config) { c.Swap.NativePrecision = 0 }, true},
		{"zero retries", func(c *Config) { c.Provider.MaxRetries = 0 }, true},
		{"inverted delays", func(c *Config) { c.Schedule.SwapDelayMin = time.Minute; c.Schedule.SwapDelayMax = time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
