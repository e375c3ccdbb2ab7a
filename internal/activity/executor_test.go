package activity

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/metrics"
	"github.com/gateway-fm/xosactivity/internal/nonce"
	"github.com/gateway-fm/xosactivity/internal/rpc/rpctest"
	"github.com/gateway-fm/xosactivity/internal/submitter"
	"github.com/gateway-fm/xosactivity/internal/txbuilder"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

var (
	wrapped  = common.HexToAddress("0x0AAB67cf6F2e99847b9A95DeC950B250D648c1BB")
	router   = common.HexToAddress("0xdc7D6b58c89A554b3FDC4B5B10De9b4DbF39FB40")
	factory  = common.HexToAddress("0xEBB7781329f101F0FDBC90A3B6f211082863884B")
	deployer = common.HexToAddress("0x45aE5Fb74828FDf9fD708C7491dC84543ec8A87e")
	usdc     = txbuilder.Token{Symbol: "USDC", Address: common.HexToAddress("0xb2C1C007421f0Eb5f4B3b3F38723C309Bb208d7d"), Decimals: 18}
)

type memRecorder struct {
	mu  sync.Mutex
	ops []types.OperationRecord
}

func (r *memRecorder) RecordOperation(ctx context.Context, op *types.OperationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op.ID = int64(len(r.ops) + 1)
	r.ops = append(r.ops, *op)
	return nil
}

func (r *memRecorder) CreateCycle(ctx context.Context, c *types.CycleRecord) error   { return nil }
func (r *memRecorder) CompleteCycle(ctx context.Context, c *types.CycleRecord) error { return nil }

func (r *memRecorder) kinds() []types.OperationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.OperationKind, len(r.ops))
	for i, op := range r.ops {
		out[i] = op.Kind
	}
	return out
}

type stopFlag bool

func (s stopFlag) StopRequested() bool { return bool(s) }

type fixture struct {
	exec    *Executor
	chain   *rpctest.Chain
	token   *rpctest.Token
	acc     *account.Account
	nonces  *nonce.Tracker
	rec     *memRecorder
	metrics *metrics.PrometheusMetrics
}

func ether(s string) *big.Int {
	return txbuilder.ToUnits(decimal.RequireFromString(s), 18)
}

func newFixture(t *testing.T, stop nonce.StopSignal) *fixture {
	t.Helper()
	accs, err := account.LoadTestAccounts()
	require.NoError(t, err)

	chain := rpctest.New(1267)
	token := rpctest.NewToken(18)
	chain.SetToken(usdc.Address, token)
	chain.SetDeployRouter(deployer, ether("0.01"))

	nonces := nonce.NewTracker(stop, nil)
	sub := submitter.New(nonces, submitter.Config{
		ChainID:        1267,
		ReceiptTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}, nil)
	rec := &memRecorder{}
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())

	exec := New(Config{
		Builder: txbuilder.Config{
			WrappedNative: wrapped,
			SwapRouter:    router,
			TokenFactory:  factory,
			DeployRouter:  deployer,
		},
		Tokens:    []txbuilder.Token{usdc},
		Submitter: sub,
		Recorder:  rec,
		Metrics:   m,
	})
	return &fixture{exec: exec, chain: chain, token: token, acc: accs[0], nonces: nonces, rec: rec, metrics: m}
}

func TestSwapNativeToToken(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.SetBalance(f.acc.Address, ether("0.05"))

	op := types.SwapOperation{Direction: types.NativeToToken, Token: "usdc", Amount: "0.002"}
	err := f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{CycleID: "c1", Label: "Account 1"})
	require.NoError(t, err)

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, router, *sent[0].To())
	assert.Equal(t, ether("0.002"), sent[0].Value())

	// Amount plus 150000 gas at baseFee+tip = 2 gwei.
	gas := new(big.Int).Mul(big.NewInt(150_000), big.NewInt(2_000_000_000))
	want := new(big.Int).Sub(ether("0.05"), ether("0.002"))
	want.Sub(want, gas)
	assert.Equal(t, want, f.chain.Balance(f.acc.Address))

	require.Len(t, f.rec.ops, 1)
	got := f.rec.ops[0]
	assert.Equal(t, types.OpSwap, got.Kind)
	assert.Equal(t, types.OpStatusSuccess, got.Status)
	assert.Equal(t, "USDC", got.Token)
	assert.Equal(t, "c1", got.CycleID)
	assert.Equal(t, sent[0].Hash().Hex(), got.TxHash)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("swap", "success")))
	assert.Equal(t, 150_000.0, testutil.ToFloat64(f.metrics.GasUsedTotal.WithLabelValues("swap")))
}

func TestSwapZeroBalanceAllocatesNoNonce(t *testing.T) {
	f := newFixture(t, nil)

	op := types.SwapOperation{Direction: types.NativeToToken, Token: "USDC", Amount: "0.002"}
	err := f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{Label: "Account 1"})

	var balance *errs.InsufficientBalanceError
	require.ErrorAs(t, err, &balance)
	assert.Equal(t, 0, f.nonces.Len())
	assert.Empty(t, f.chain.Sent())

	require.Len(t, f.rec.ops, 1)
	assert.Equal(t, types.OpStatusSkipped, f.rec.ops[0].Status)
	assert.Equal(t, "insufficient_balance", f.rec.ops[0].ErrorKind)
}

func TestSwapTokenToNativeApproval(t *testing.T) {
	tests := []struct {
		name      string
		allowance *big.Int
		wantKinds []types.OperationKind
	}{
		{"short allowance", big.NewInt(0), []types.OperationKind{types.OpApprove, types.OpSwap}},
		{"sufficient allowance", ether("1"), []types.OperationKind{types.OpSwap}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.chain.SetBalance(f.acc.Address, ether("1"))
			f.token.Balances[f.acc.Address] = ether("0.5")
			f.token.Allowances[f.acc.Address] = map[common.Address]*big.Int{router: tt.allowance}

			op := types.SwapOperation{Direction: types.TokenToNative, Token: "USDC", Amount: "0.03"}
			require.NoError(t, f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{Label: "Account 1"}))

			assert.Equal(t, tt.wantKinds, f.rec.kinds())
			sent := f.chain.Sent()
			require.Len(t, sent, len(tt.wantKinds))
			if len(sent) == 2 {
				assert.Equal(t, usdc.Address, *sent[0].To(), "approval goes to the token")
				assert.Equal(t, ether("0.03"), f.chain.Allowance(usdc.Address, f.acc.Address, router))
			}
			last := sent[len(sent)-1]
			assert.Equal(t, router, *last.To())
			assert.Equal(t, txbuilder.GasTokenToNative, last.Gas())
		})
	}
}

func TestSwapUsesChainDecimals(t *testing.T) {
	f := newFixture(t, nil)
	f.token.Decimals = 6
	f.chain.SetBalance(f.acc.Address, ether("1"))
	f.token.Balances[f.acc.Address] = big.NewInt(5_000_000)
	f.token.Allowances[f.acc.Address] = map[common.Address]*big.Int{router: big.NewInt(5_000_000)}

	op := types.SwapOperation{Direction: types.TokenToNative, Token: "USDC", Amount: "1.5"}
	require.NoError(t, f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{}))
	require.Len(t, f.chain.Sent(), 1)
}

func TestSwapStoppedConsumesNoNonce(t *testing.T) {
	f := newFixture(t, stopFlag(true))
	f.chain.SetBalance(f.acc.Address, ether("1"))

	op := types.SwapOperation{Direction: types.NativeToToken, Token: "USDC", Amount: "0.002"}
	err := f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{})

	require.ErrorIs(t, err, errs.ErrProcessStopped)
	assert.Equal(t, 0, f.nonces.Len())
	assert.Empty(t, f.chain.Sent())
	require.Len(t, f.rec.ops, 1)
	assert.Equal(t, types.OpStatusStopped, f.rec.ops[0].Status)
}

func TestSwapInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		op   types.SwapOperation
	}{
		{"unknown token", types.SwapOperation{Direction: types.NativeToToken, Token: "DOGE", Amount: "1"}},
		{"bad amount", types.SwapOperation{Direction: types.NativeToToken, Token: "USDC", Amount: "abc"}},
		{"zero amount", types.SwapOperation{Direction: types.NativeToToken, Token: "USDC", Amount: "0"}},
		{"bad direction", types.SwapOperation{Direction: "SIDEWAYS", Token: "USDC", Amount: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			err := f.exec.Swap(context.Background(), f.chain, f.acc, tt.op, Meta{})
			assert.True(t, errs.IsInvalidInput(err), "got %v", err)
			require.Len(t, f.rec.ops, 1)
			assert.Equal(t, types.OpStatusFailed, f.rec.ops[0].Status)
		})
	}
}

func TestSwapRevertIsFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.SetBalance(f.acc.Address, ether("1"))
	f.chain.RevertReason = "Too little received"
	f.chain.Revert = func(_ *gethtypes.Transaction) bool { return true }

	op := types.SwapOperation{Direction: types.NativeToToken, Token: "USDC", Amount: "0.002"}
	err := f.exec.Swap(context.Background(), f.chain, f.acc, op, Meta{})

	var reverted *errs.TransactionRevertedError
	require.ErrorAs(t, err, &reverted)
	require.Len(t, f.rec.ops, 1)
	assert.Equal(t, types.OpStatusFailed, f.rec.ops[0].Status)
	assert.NotEmpty(t, f.rec.ops[0].TxHash)
}

func TestCreateToken(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.SetBalance(f.acc.Address, ether("1"))

	res, err := f.exec.CreateToken(context.Background(), f.chain, f.acc,
		types.CreateTokenRequest{Name: "Test", Symbol: "TST", Supply: "1000"}, Meta{Label: "Account 1"})
	require.NoError(t, err)
	assert.Equal(t, types.OpCreateToken, res.Kind)
	assert.Equal(t, f.acc.Address.Hex(), res.Account)
	assert.Equal(t, txbuilder.GasCreateToken, res.GasUsed)
	assert.NotZero(t, res.BlockNumber)

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, factory, *sent[0].To())
	assert.Equal(t, txbuilder.TokenCreationFee, sent[0].Value())
}

func TestDeployContractFundingBelowFee(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.SetBalance(f.acc.Address, ether("1"))

	_, err := f.exec.DeployContract(context.Background(), f.chain, f.acc,
		types.DeployContractRequest{Name: "Hello", Funding: "0.001"}, Meta{})

	var funding *errs.InsufficientFundingError
	require.ErrorAs(t, err, &funding)
	assert.Empty(t, f.chain.Sent())
	require.Len(t, f.rec.ops, 1)
	assert.Equal(t, types.OpStatusSkipped, f.rec.ops[0].Status)
}

func TestDeployContract(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.SetBalance(f.acc.Address, ether("1"))

	res, err := f.exec.DeployContract(context.Background(), f.chain, f.acc,
		types.DeployContractRequest{Name: "Hello", Funding: "0.02"}, Meta{})
	require.NoError(t, err)
	assert.Equal(t, types.OpDeployContract, res.Kind)

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, deployer, *sent[0].To())
	assert.Equal(t, ether("0.02"), sent[0].Value())
}

func TestRecordCheckIn(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.RecordCheckIn(context.Background(), f.acc, "already", 20*time.Millisecond, nil, Meta{CycleID: "c9"})
	f.exec.RecordCheckIn(context.Background(), f.acc, "failed", time.Millisecond, errors.New("boom"), Meta{CycleID: "c9"})

	require.Len(t, f.rec.ops, 2)
	assert.Equal(t, types.OpCheckIn, f.rec.ops[0].Kind)
	assert.Equal(t, types.OpStatusSuccess, f.rec.ops[0].Status)
	assert.Equal(t, types.OpStatusFailed, f.rec.ops[1].Status)
	assert.Equal(t, "boom", f.rec.ops[1].Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CheckInsTotal.WithLabelValues("already")))
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want types.OperationStatus
	}{
		{nil, types.OpStatusSuccess},
		{errs.ErrProcessStopped, types.OpStatusStopped},
		{&errs.InsufficientBalanceError{Asset: "XOS"}, types.OpStatusSkipped},
		{&errs.InsufficientFundingError{}, types.OpStatusSkipped},
		{errs.ErrReceiptTimeout, types.OpStatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err), "err=%v", tt.err)
	}
}

func TestSymbols(t *testing.T) {
	exec := New(Config{Tokens: []txbuilder.Token{{Symbol: "bnb"}, usdc}})
	assert.Equal(t, []string{"BNB", "USDC"}, exec.Symbols())
	assert.Equal(t, "XOS", exec.NativeSymbol())
	_, ok := exec.Token("Bnb")
	assert.True(t, ok)
}
