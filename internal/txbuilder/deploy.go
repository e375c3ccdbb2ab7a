package txbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

var maxSupply = decimal.NewFromInt(MaxTokenSupply)

// CreateToken builds a token factory call creating an 18-decimal token
// with a whole-number supply of at most one billion.
func (b *Builder) CreateToken(ctx context.Context, from common.Address, name, symbol, supply string) (*BuiltTx, error) {
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" {
		return nil, errs.InvalidInput("name", "token name is required")
	}
	if symbol == "" {
		return nil, errs.InvalidInput("symbol", "token symbol is required")
	}
	total, err := ParseAmount("supply", strings.TrimSpace(supply))
	if err != nil {
		return nil, err
	}
	if !total.IsInteger() {
		return nil, errs.InvalidInput("supply", "must be a whole number, got %s", total)
	}
	if total.GreaterThan(maxSupply) {
		return nil, errs.InvalidInput("supply", "too large, maximum is 1,000,000,000 tokens")
	}

	if err := b.requireNativeBalance(ctx, from, TokenCreationFee, GasCreateToken); err != nil {
		return nil, err
	}

	data, err := EncodeCreateToken(name, symbol, CreatedTokenDecimals, total.BigInt())
	if err != nil {
		return nil, fmt.Errorf("encode createToken: %w", err)
	}
	return &BuiltTx{
		Kind:        types.OpCreateToken,
		To:          b.cfg.TokenFactory,
		Data:        data,
		Value:       new(big.Int).Set(TokenCreationFee),
		GasLimit:    GasCreateToken,
		GasPrice:    new(big.Int).Set(LegacyGasPrice),
		Description: fmt.Sprintf("create token %s (%s) supply %s", name, symbol, total),
	}, nil
}

// DeployContract builds a deploy router call funded with funding whole
// units of the native coin. The name is checked before any chain read.
func (b *Builder) DeployContract(ctx context.Context, from common.Address, name, funding string) (*BuiltTx, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.InvalidInput("name", "contract name cannot be empty")
	}
	if n := utf8.RuneCountInString(name); n > MaxContractNameLen {
		return nil, errs.InvalidInput("name", "contract name too long: %d characters (max %d)", n, MaxContractNameLen)
	}
	funding = strings.TrimSpace(funding)
	amount, err := decimal.NewFromString(funding)
	if err != nil {
		return nil, errs.InvalidInput("funding", "%q is not a number", funding)
	}
	if amount.IsNegative() {
		return nil, errs.InvalidInput("funding", "must not be negative, got %s", funding)
	}
	value := ToUnits(amount, NativeDecimals)

	fee, err := DeploymentFee(ctx, b.client, b.cfg.DeployRouter)
	if err != nil {
		return nil, err
	}
	if value.Cmp(fee) < 0 {
		return nil, &errs.InsufficientFundingError{Required: fee, Provided: value}
	}
	b.logger.Info("Deployment fee required",
		slog.String("fee", FormatUnits(fee, NativeDecimals)),
		slog.String("asset", b.cfg.NativeSymbol),
	)

	if err := b.requireNativeBalance(ctx, from, value, GasDeployContract); err != nil {
		return nil, err
	}

	data, err := EncodeDeploy(name)
	if err != nil {
		return nil, fmt.Errorf("encode deploy: %w", err)
	}
	return &BuiltTx{
		Kind:        types.OpDeployContract,
		To:          b.cfg.DeployRouter,
		Data:        data,
		Value:       value,
		GasLimit:    GasDeployContract,
		GasPrice:    new(big.Int).Set(LegacyGasPrice),
		Description: fmt.Sprintf("deploy contract %s funded with %s %s", name, amount, b.cfg.NativeSymbol),
	}, nil
}
