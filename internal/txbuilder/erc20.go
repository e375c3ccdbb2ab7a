package txbuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/rpc"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// BalanceOf returns owner's balance of token in its smallest unit.
func BalanceOf(ctx context.Context, client rpc.Client, token, owner common.Address) (*big.Int, error) {
	out, err := call(ctx, client, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Decimals returns the token's decimals.
func Decimals(ctx context.Context, client rpc.Client, token common.Address) (uint8, error) {
	out, err := call(ctx, client, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// Allowance returns how much spender may move on behalf of owner.
func Allowance(ctx context.Context, client rpc.Client, token, owner, spender common.Address) (*big.Int, error) {
	out, err := call(ctx, client, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// DeploymentFee returns the deploy router's current fee in wei.
func DeploymentFee(ctx context.Context, client rpc.Client, router common.Address) (*big.Int, error) {
	out, err := call(ctx, client, deployRouterABI, router, "deploymentFee")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func call(ctx context.Context, client rpc.Client, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	return out, nil
}

// requireTokenBalance fails with InsufficientBalanceError when from holds
// less than amount of token.
func (b *Builder) requireTokenBalance(ctx context.Context, from common.Address, token Token, amount *big.Int) error {
	balance, err := BalanceOf(ctx, b.client, token.Address, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return &errs.InsufficientBalanceError{Asset: token.Symbol, Required: amount, Available: balance}
	}
	return nil
}

// requireNativeBalance fails when from cannot cover value plus the
// estimated fee for gasLimit.
func (b *Builder) requireNativeBalance(ctx context.Context, from common.Address, value *big.Int, gasLimit uint64) error {
	balance, err := b.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return fmt.Errorf("get %s balance: %w", b.cfg.NativeSymbol, err)
	}
	required := new(big.Int).Add(value, b.EstimateCost(ctx, gasLimit))
	if balance.Cmp(required) < 0 {
		return &errs.InsufficientBalanceError{Asset: b.cfg.NativeSymbol, Required: required, Available: balance}
	}
	return nil
}

// ApprovalFor returns an approve(router, amount) transaction when the
// router's allowance is below amount, or nil when no approval is needed.
func (b *Builder) ApprovalFor(ctx context.Context, from common.Address, token Token, amount *big.Int) (*BuiltTx, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errs.InvalidInput("amount", "must be positive")
	}
	if err := b.requireTokenBalance(ctx, from, token, amount); err != nil {
		return nil, err
	}

	allowance, err := Allowance(ctx, b.client, token.Address, from, b.cfg.SwapRouter)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}

	data, err := EncodeApprove(b.cfg.SwapRouter, amount)
	if err != nil {
		return nil, fmt.Errorf("encode approve: %w", err)
	}
	return &BuiltTx{
		Kind:        types.OpApprove,
		To:          token.Address,
		Data:        data,
		Value:       new(big.Int),
		GasLimit:    GasApprove,
		Description: fmt.Sprintf("approve router for %s %s", FormatUnits(amount, token.Decimals), token.Symbol),
	}, nil
}
