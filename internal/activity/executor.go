// Package activity runs single operations for one account: swaps with
// their approvals, token creation and contract deployment. Every operation
// is recorded to history and metrics whatever its outcome.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/metrics"
	"github.com/gateway-fm/xosactivity/internal/rpc"
	"github.com/gateway-fm/xosactivity/internal/storage"
	"github.com/gateway-fm/xosactivity/internal/submitter"
	"github.com/gateway-fm/xosactivity/internal/txbuilder"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Meta identifies where an operation runs.
type Meta struct {
	CycleID string
	// Label is the operator-facing account name, e.g. "Account 2".
	Label string
}

// Config for creating an Executor.
type Config struct {
	Builder   txbuilder.Config
	Tokens    []txbuilder.Token
	Submitter *submitter.Submitter
	Recorder  storage.Recorder         // optional
	Metrics   *metrics.PrometheusMetrics // optional
	Logger    *slog.Logger
}

// Executor builds, submits and records operations.
type Executor struct {
	builderCfg txbuilder.Config
	tokens     map[string]txbuilder.Token
	submitter  *submitter.Submitter
	recorder   storage.Recorder
	metrics    *metrics.PrometheusMetrics
	logger     *slog.Logger
}

// New creates a new Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokens := make(map[string]txbuilder.Token, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[strings.ToUpper(t.Symbol)] = t
	}
	return &Executor{
		builderCfg: cfg.Builder,
		tokens:     tokens,
		submitter:  cfg.Submitter,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Token returns the configured token for symbol.
func (e *Executor) Token(symbol string) (txbuilder.Token, bool) {
	t, ok := e.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// Symbols returns the configured token symbols, sorted.
func (e *Executor) Symbols() []string {
	out := make([]string, 0, len(e.tokens))
	for sym := range e.tokens {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NativeSymbol returns the display symbol of the native coin.
func (e *Executor) NativeSymbol() string {
	if e.builderCfg.NativeSymbol == "" {
		return "XOS"
	}
	return e.builderCfg.NativeSymbol
}

// Swap executes op for acc. A token-to-native swap is preceded by exactly
// one approval when the router allowance is short.
func (e *Executor) Swap(ctx context.Context, client rpc.Client, acc *account.Account, op types.SwapOperation, meta Meta) error {
	start := time.Now()
	rec := &types.OperationRecord{
		CycleID:   meta.CycleID,
		Account:   acc.Address.Hex(),
		Kind:      types.OpSwap,
		Direction: op.Direction,
		Token:     strings.ToUpper(op.Token),
		Amount:    op.Amount,
	}
	logger := e.logger.With(slog.String("account", meta.Label))

	receipt, err := e.swap(ctx, client, acc, op, meta, logger)
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
	}
	e.finish(ctx, rec, start, receipt, err)
	return err
}

func (e *Executor) swap(ctx context.Context, client rpc.Client, acc *account.Account, op types.SwapOperation, meta Meta, logger *slog.Logger) (*gethtypes.Receipt, error) {
	token, ok := e.Token(op.Token)
	if !ok {
		return nil, errs.InvalidInput("token", "unknown token %q", op.Token)
	}
	amount, err := txbuilder.ParseAmount("amount", op.Amount)
	if err != nil {
		return nil, err
	}
	builder := txbuilder.New(client, e.builderCfg, logger)

	switch op.Direction {
	case types.NativeToToken:
		logger.Info("Swapping native for token",
			slog.String("amount", op.Amount),
			slog.String("from", e.NativeSymbol()),
			slog.String("to", token.Symbol),
		)
		tx, err := builder.NativeToToken(ctx, acc.Address, token, txbuilder.ToUnits(amount, txbuilder.NativeDecimals))
		if err != nil {
			return nil, err
		}
		return e.submitter.Submit(ctx, client, acc, tx)

	case types.TokenToNative:
		token = e.withChainDecimals(ctx, client, token, logger)
		units := txbuilder.ToUnits(amount, token.Decimals)
		logger.Info("Swapping token for native",
			slog.String("amount", op.Amount),
			slog.String("from", token.Symbol),
			slog.String("to", e.NativeSymbol()),
		)

		approval, err := builder.ApprovalFor(ctx, acc.Address, token, units)
		if err != nil {
			return nil, err
		}
		if approval != nil {
			if err := e.approve(ctx, client, acc, approval, token, op.Amount, meta, logger); err != nil {
				return nil, err
			}
		}

		tx, err := builder.TokenToNative(ctx, acc.Address, token, units)
		if err != nil {
			return nil, err
		}
		return e.submitter.Submit(ctx, client, acc, tx)

	default:
		return nil, errs.InvalidInput("direction", "unknown swap direction %q", op.Direction)
	}
}

func (e *Executor) approve(ctx context.Context, client rpc.Client, acc *account.Account, tx *txbuilder.BuiltTx, token txbuilder.Token, amount string, meta Meta, logger *slog.Logger) error {
	start := time.Now()
	rec := &types.OperationRecord{
		CycleID: meta.CycleID,
		Account: acc.Address.Hex(),
		Kind:    types.OpApprove,
		Token:   token.Symbol,
		Amount:  amount,
	}
	logger.Info("Approving token for router", slog.String("token", token.Symbol), slog.String("amount", amount))

	receipt, err := e.submitter.Submit(ctx, client, acc, tx)
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
	}
	e.finish(ctx, rec, start, receipt, err)
	if err != nil {
		return fmt.Errorf("approve %s: %w", token.Symbol, err)
	}
	return nil
}

// withChainDecimals prefers the decimals reported by the contract and falls
// back to the configured value.
func (e *Executor) withChainDecimals(ctx context.Context, client rpc.Client, token txbuilder.Token, logger *slog.Logger) txbuilder.Token {
	dec, err := txbuilder.Decimals(ctx, client, token.Address)
	if err != nil {
		logger.Debug("Using configured token decimals",
			slog.String("token", token.Symbol),
			slog.Int("decimals", int(token.Decimals)),
			slog.String("error", err.Error()),
		)
		return token
	}
	token.Decimals = dec
	return token
}

// CreateToken deploys a new ERC20 through the token factory.
func (e *Executor) CreateToken(ctx context.Context, client rpc.Client, acc *account.Account, req types.CreateTokenRequest, meta Meta) (*types.OperationResult, error) {
	start := time.Now()
	rec := &types.OperationRecord{
		CycleID: meta.CycleID,
		Account: acc.Address.Hex(),
		Kind:    types.OpCreateToken,
		Token:   req.Symbol,
		Amount:  req.Supply,
	}
	logger := e.logger.With(slog.String("account", meta.Label))
	logger.Info("Creating token",
		slog.String("name", req.Name),
		slog.String("symbol", req.Symbol),
		slog.String("supply", req.Supply),
	)

	var receipt *gethtypes.Receipt
	tx, err := txbuilder.New(client, e.builderCfg, logger).CreateToken(ctx, acc.Address, req.Name, req.Symbol, req.Supply)
	if err == nil {
		receipt, err = e.submitter.Submit(ctx, client, acc, tx)
	}
	return e.result(ctx, rec, start, receipt, err)
}

// DeployContract deploys a named contract through the deploy router.
func (e *Executor) DeployContract(ctx context.Context, client rpc.Client, acc *account.Account, req types.DeployContractRequest, meta Meta) (*types.OperationResult, error) {
	start := time.Now()
	rec := &types.OperationRecord{
		CycleID: meta.CycleID,
		Account: acc.Address.Hex(),
		Kind:    types.OpDeployContract,
		Amount:  req.Funding,
	}
	logger := e.logger.With(slog.String("account", meta.Label))
	logger.Info("Deploying contract", slog.String("name", req.Name), slog.String("funding", req.Funding))

	var receipt *gethtypes.Receipt
	tx, err := txbuilder.New(client, e.builderCfg, logger).DeployContract(ctx, acc.Address, req.Name, req.Funding)
	if err == nil {
		receipt, err = e.submitter.Submit(ctx, client, acc, tx)
	}
	return e.result(ctx, rec, start, receipt, err)
}

func (e *Executor) result(ctx context.Context, rec *types.OperationRecord, start time.Time, receipt *gethtypes.Receipt, err error) (*types.OperationResult, error) {
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
	}
	e.finish(ctx, rec, start, receipt, err)
	if err != nil {
		return nil, err
	}
	return &types.OperationResult{
		Kind:        rec.Kind,
		Account:     rec.Account,
		TxHash:      rec.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// RecordCheckIn stores the outcome of a check-in.
func (e *Executor) RecordCheckIn(ctx context.Context, acc *account.Account, outcome string, d time.Duration, err error, meta Meta) {
	rec := &types.OperationRecord{
		CycleID:    meta.CycleID,
		Account:    acc.Address.Hex(),
		Kind:       types.OpCheckIn,
		Status:     Status(err),
		DurationMs: d.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if err != nil {
		rec.ErrorKind = errs.Kind(err)
		rec.Error = err.Error()
	}
	e.metrics.RecordCheckIn(outcome)
	e.metrics.RecordOperation(rec.Kind, rec.Status, rec.ErrorKind, d)
	e.store(ctx, rec)
}

func (e *Executor) finish(ctx context.Context, rec *types.OperationRecord, start time.Time, receipt *gethtypes.Receipt, err error) {
	d := time.Since(start)
	rec.Status = Status(err)
	rec.DurationMs = d.Milliseconds()
	rec.CreatedAt = time.Now()
	if err != nil {
		rec.ErrorKind = errs.Kind(err)
		rec.Error = err.Error()
	}
	e.metrics.RecordOperation(rec.Kind, rec.Status, rec.ErrorKind, d)
	if receipt != nil {
		e.metrics.RecordGasUsed(rec.Kind, receipt.GasUsed)
	}
	e.store(ctx, rec)
}

func (e *Executor) store(ctx context.Context, rec *types.OperationRecord) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordOperation(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to record operation",
			slog.String("kind", string(rec.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Status maps an operation error to its recorded status. Pre-flight
// shortfalls send nothing and count as skipped.
func Status(err error) types.OperationStatus {
	var (
		balance *errs.InsufficientBalanceError
		funding *errs.InsufficientFundingError
	)
	switch {
	case err == nil:
		return types.OpStatusSuccess
	case errors.Is(err, errs.ErrProcessStopped):
		return types.OpStatusStopped
	case errors.As(err, &balance), errors.As(err, &funding):
		return types.OpStatusSkipped
	default:
		return types.OpStatusFailed
	}
}
