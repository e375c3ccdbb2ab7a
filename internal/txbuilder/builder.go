// Package txbuilder builds the unsigned transactions of the activity engine.
//
// A Builder reads chain state through one connection and produces BuiltTx
// values. It never allocates nonces or signs; that is the submitter's job.
package txbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/xosactivity/internal/rpc"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Gas limits per operation.
const (
	GasNativeToToken  uint64 = 150_000
	GasTokenToNative  uint64 = 250_000
	GasApprove        uint64 = 100_000
	GasCreateToken    uint64 = 1_200_000
	GasDeployContract uint64 = 1_000_000
)

// Fixed parameters of token creation and contract deployment.
var (
	// LegacyGasPrice is 78.75 gwei.
	LegacyGasPrice = big.NewInt(78_750_000_000)

	// TokenCreationFee is 0.001 of the native coin.
	TokenCreationFee = big.NewInt(1_000_000_000_000_000)

	// DefaultGasPrice is used when fee estimation fails.
	DefaultGasPrice = big.NewInt(1_000_000_000)
)

const (
	CreatedTokenDecimals uint8 = 18
	MaxTokenSupply             = 1_000_000_000
	MaxContractNameLen         = 32
	NativeDecimals       uint8 = 18
)

// Config carries the contract addresses and swap settings.
type Config struct {
	WrappedNative common.Address
	SwapRouter    common.Address
	TokenFactory  common.Address
	DeployRouter  common.Address

	PoolFee          uint32
	Deadline         time.Duration
	AmountOutMinimum *big.Int
	NativeSymbol     string
}

// Token is an ERC20 the builder can swap.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// BuiltTx is an unsigned transaction. A nil GasPrice means EIP-1559 fees
// are chosen at submission time.
type BuiltTx struct {
	Kind        types.OperationKind
	To          common.Address
	Data        []byte
	Value       *big.Int
	GasLimit    uint64
	GasPrice    *big.Int
	Description string
}

// Legacy reports whether the transaction uses a fixed gas price.
func (t *BuiltTx) Legacy() bool {
	return t.GasPrice != nil
}

// Builder builds transactions against one chain connection.
type Builder struct {
	client rpc.Client
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a builder. Zero settings take their defaults.
func New(client rpc.Client, cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PoolFee == 0 {
		cfg.PoolFee = 500
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 20 * time.Minute
	}
	if cfg.AmountOutMinimum == nil {
		cfg.AmountOutMinimum = new(big.Int)
	}
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = "XOS"
	}
	return &Builder{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the builder settings.
func (b *Builder) Config() Config {
	return b.cfg
}

// FeePerGas returns 2*baseFee + tip, or DefaultGasPrice when the chain
// cannot be queried.
func (b *Builder) FeePerGas(ctx context.Context) *big.Int {
	_, feeCap, err := DynamicFees(ctx, b.client)
	if err != nil {
		b.logger.Debug("Failed to estimate gas, using default 1 gwei", slog.String("error", err.Error()))
		return new(big.Int).Set(DefaultGasPrice)
	}
	return feeCap
}

// EstimateCost returns the worst-case fee for gasLimit in wei.
func (b *Builder) EstimateCost(ctx context.Context, gasLimit uint64) *big.Int {
	return new(big.Int).Mul(b.FeePerGas(ctx), new(big.Int).SetUint64(gasLimit))
}

// DynamicFees returns the suggested tip and a fee cap of 2*baseFee + tip.
func DynamicFees(ctx context.Context, client rpc.Client) (tip, feeCap *big.Int, err error) {
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("get latest header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, nil, fmt.Errorf("chain reports no base fee")
	}
	tip, err = client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	feeCap = new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

func (b *Builder) deadline() *big.Int {
	return big.NewInt(b.now().Add(b.cfg.Deadline).Unix())
}
