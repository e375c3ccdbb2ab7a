// Package submitter signs, sends and confirms built transactions.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/nonce"
	"github.com/gateway-fm/xosactivity/internal/rpc"
	"github.com/gateway-fm/xosactivity/internal/txbuilder"
)

const unknownReason = "unknown reason"

// Config holds submitter settings.
type Config struct {
	ChainID        int64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Submitter turns a BuiltTx into a mined receipt. It never retries; a
// failed submission is reported to the caller.
type Submitter struct {
	nonces      *nonce.Tracker
	chainID     *big.Int
	cfg         Config
	logger      *slog.Logger
	onConfirmed func(common.Address)
}

// New creates a submitter that allocates nonces from nonces.
func New(nonces *nonce.Tracker, cfg Config, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Submitter{
		nonces:  nonces,
		chainID: big.NewInt(cfg.ChainID),
		cfg:     cfg,
		logger:  logger,
	}
}

// OnConfirmed registers fn to run with the sender address after every
// successful receipt.
func (s *Submitter) OnConfirmed(fn func(common.Address)) {
	s.onConfirmed = fn
}

// Submit allocates a nonce, signs tx for acc, sends it and waits for the
// receipt. A reverted transaction returns the receipt together with a
// TransactionRevertedError.
func (s *Submitter) Submit(ctx context.Context, client rpc.Client, acc *account.Account, tx *txbuilder.BuiltTx) (*types.Receipt, error) {
	n, err := s.nonces.Allocate(ctx, client, acc.Address.Hex())
	if err != nil {
		return nil, err
	}

	var tip, feeCap *big.Int
	if !tx.Legacy() {
		tip, feeCap = s.fees(ctx, client)
	}

	signed, err := types.SignTx(tx.Transaction(s.chainID, n, tip, feeCap), types.LatestSignerForChainID(s.chainID), acc.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		s.logger.Error("Failed to send transaction",
			slog.String("account", account.ShortAddress(acc.Address)),
			slog.String("kind", string(tx.Kind)),
			slog.Uint64("nonce", n),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("send tx: %w", err)
	}

	hash := signed.Hash()
	s.logger.Info("Transaction sent",
		slog.String("account", account.ShortAddress(acc.Address)),
		slog.String("kind", string(tx.Kind)),
		slog.String("txHash", hash.Hex()),
		slog.Uint64("nonce", n),
		slog.String("description", tx.Description),
	)

	receipt, err := s.waitForReceipt(ctx, client, hash)
	if err != nil {
		s.logger.Error("Failed waiting for receipt",
			slog.String("txHash", hash.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := s.revertReason(ctx, client, acc.Address, signed, receipt.BlockNumber)
		revErr := &errs.TransactionRevertedError{
			TxHash:      hash.Hex(),
			BlockNumber: receipt.BlockNumber.Uint64(),
			Reason:      reason,
		}
		s.logger.Error("Transaction reverted",
			slog.String("txHash", hash.Hex()),
			slog.Uint64("block", receipt.BlockNumber.Uint64()),
			slog.String("reason", reason),
		)
		return receipt, revErr
	}

	s.logger.Info("Transaction confirmed",
		slog.String("kind", string(tx.Kind)),
		slog.String("txHash", hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.Uint64("gasUsed", receipt.GasUsed),
	)
	if s.onConfirmed != nil {
		s.onConfirmed(acc.Address)
	}
	return receipt, nil
}

// fees returns the tip and a 2*baseFee + tip cap, with 1 gwei fallbacks.
func (s *Submitter) fees(ctx context.Context, client rpc.Client) (*big.Int, *big.Int) {
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		s.logger.Debug("Failed to suggest gas tip, using default 1 gwei", slog.String("error", err.Error()))
		tip = new(big.Int).Set(txbuilder.DefaultGasPrice)
	}
	baseFee := txbuilder.DefaultGasPrice
	if head, err := client.HeaderByNumber(ctx, nil); err == nil && head.BaseFee != nil {
		baseFee = head.BaseFee
	} else if err != nil {
		s.logger.Debug("Failed to read base fee, using default 1 gwei", slog.String("error", err.Error()))
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap
}

// waitForReceipt polls until the transaction is mined, the receipt timeout
// passes or ctx is done. Lookup errors are treated as not yet mined.
func (s *Submitter) waitForReceipt(ctx context.Context, client rpc.Client, hash common.Hash) (*types.Receipt, error) {
	timeout := time.NewTimer(s.cfg.ReceiptTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !rpc.IsNotFound(err) {
			s.logger.Debug("Receipt lookup failed", slog.String("txHash", hash.Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("%w: %s after %s", errs.ErrReceiptTimeout, hash.Hex(), s.cfg.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}

// revertReason replays the transaction at its block and decodes the
// Error(string) payload. It never fails.
func (s *Submitter) revertReason(ctx context.Context, client rpc.Client, from common.Address, tx *types.Transaction, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	out, err := client.CallContract(ctx, msg, block)
	if err == nil {
		if reason, decodeErr := abi.UnpackRevert(out); decodeErr == nil {
			return reason
		}
		return unknownReason
	}

	if data, ok := rpc.RevertData(err); ok {
		if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
			if reason, decodeErr := abi.UnpackRevert(raw); decodeErr == nil {
				return reason
			}
		}
	}
	s.logger.Debug("Failed to retrieve revert reason", slog.String("error", err.Error()))
	return unknownReason
}
