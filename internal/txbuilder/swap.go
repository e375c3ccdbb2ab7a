package txbuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// NativeToToken builds a multicall that swaps amount wei of the native
// coin into token, paid to from.
func (b *Builder) NativeToToken(ctx context.Context, from common.Address, token Token, amount *big.Int) (*BuiltTx, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errs.InvalidInput("amount", "must be positive")
	}
	if err := b.requireNativeBalance(ctx, from, amount, GasNativeToToken); err != nil {
		return nil, err
	}

	swap, err := EncodeExactInputSingle(ExactInputSingleParams{
		TokenIn:           b.cfg.WrappedNative,
		TokenOut:          token.Address,
		Fee:               new(big.Int).SetUint64(uint64(b.cfg.PoolFee)),
		Recipient:         from,
		AmountIn:          amount,
		AmountOutMinimum:  b.cfg.AmountOutMinimum,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("encode exactInputSingle: %w", err)
	}
	data, err := EncodeMulticall(b.deadline(), [][]byte{swap})
	if err != nil {
		return nil, fmt.Errorf("encode multicall: %w", err)
	}

	return &BuiltTx{
		Kind:        types.OpSwap,
		To:          b.cfg.SwapRouter,
		Data:        data,
		Value:       new(big.Int).Set(amount),
		GasLimit:    GasNativeToToken,
		Description: fmt.Sprintf("%s %s to %s", FormatUnits(amount, NativeDecimals), b.cfg.NativeSymbol, token.Symbol),
	}, nil
}

// TokenToNative builds a multicall that swaps amount of token into the
// wrapped native coin held by the router, then unwraps it to from. The
// caller must have confirmed an approval first; see ApprovalFor.
func (b *Builder) TokenToNative(ctx context.Context, from common.Address, token Token, amount *big.Int) (*BuiltTx, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errs.InvalidInput("amount", "must be positive")
	}
	if err := b.requireTokenBalance(ctx, from, token, amount); err != nil {
		return nil, err
	}

	swap, err := EncodeExactInputSingle(ExactInputSingleParams{
		TokenIn:           token.Address,
		TokenOut:          b.cfg.WrappedNative,
		Fee:               new(big.Int).SetUint64(uint64(b.cfg.PoolFee)),
		Recipient:         b.cfg.SwapRouter,
		AmountIn:          amount,
		AmountOutMinimum:  b.cfg.AmountOutMinimum,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("encode exactInputSingle: %w", err)
	}
	unwrap, err := EncodeUnwrapWETH9(b.cfg.AmountOutMinimum, from)
	if err != nil {
		return nil, fmt.Errorf("encode unwrapWETH9: %w", err)
	}
	data, err := EncodeMulticall(b.deadline(), [][]byte{swap, unwrap})
	if err != nil {
		return nil, fmt.Errorf("encode multicall: %w", err)
	}

	return &BuiltTx{
		Kind:        types.OpSwap,
		To:          b.cfg.SwapRouter,
		Data:        data,
		Value:       new(big.Int),
		GasLimit:    GasTokenToNative,
		Description: fmt.Sprintf("%s %s to %s", FormatUnits(amount, token.Decimals), token.Symbol, b.cfg.NativeSymbol),
	}, nil
}
