package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/config"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/provider"
	"github.com/gateway-fm/xosactivity/internal/wallet"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

func TestBuilderConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Contracts.SwapRouter = "0xdc7D6b58c89A554b3FDC4B5B10De9b4DbF39FB40"
	cfg.Swap.PoolFee = 500
	cfg.Swap.NativeSymbol = "XOS"
	cfg.Swap.AmountOutMinimum = " 0 "

	got, err := builderConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xdc7D6b58c89A554b3FDC4B5B10De9b4DbF39FB40"), got.SwapRouter)
	assert.Equal(t, uint32(500), got.PoolFee)
	assert.Equal(t, 0, got.AmountOutMinimum.Cmp(big.NewInt(0)))

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		cfg.Swap.AmountOutMinimum = bad
		_, err := builderConfig(cfg)
		assert.Error(t, err, "amount %q", bad)
	}
}

func index(i int) *int { return &i }

// chainServer answers every JSON-RPC call with chain ID 1, which no test
// resolver expects.
func chainServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x1"}`, req.ID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, n int) *Service {
	t.Helper()
	accounts, err := account.LoadTestAccounts()
	require.NoError(t, err)
	accounts = accounts[:n]
	return &Service{
		accounts: accounts,
		wallets:  wallet.New(wallet.Config{Accounts: accounts}),
		resolver: provider.New(provider.Config{
			URL:        chainServer(t).URL,
			ChainID:    1267,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
			Timeout:    time.Second,
		}, nil),
	}
}

func TestServiceRejectsOutOfRangeAccount(t *testing.T) {
	svc := newTestService(t, 2)

	_, err := svc.CreateToken(context.Background(), types.CreateTokenRequest{AccountIndex: index(2), Name: "T", Symbol: "T", Supply: "1"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = svc.DeployContract(context.Background(), types.DeployContractRequest{AccountIndex: index(-1), Name: "C", Funding: "0"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = svc.Wallets(context.Background(), 5)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestManualOperationsUseSelectedAccount(t *testing.T) {
	svc := newTestService(t, 3)
	svc.wallets.Select(1)

	// The chain ID check fails after the account is resolved, so the error
	// names the account the operation would have spent from.
	_, err := svc.CreateToken(context.Background(), types.CreateTokenRequest{Name: "T", Symbol: "T", Supply: "1"})
	var mismatch *errs.ChainIDMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, err.Error(), "connect account 2:")

	_, err = svc.DeployContract(context.Background(), types.DeployContractRequest{AccountIndex: index(2), Name: "C", Funding: "1"})
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, err.Error(), "connect account 3:")

	svc.wallets.Select(-1)
	_, err = svc.CreateToken(context.Background(), types.CreateTokenRequest{Name: "T", Symbol: "T", Supply: "1"})
	assert.True(t, errs.IsInvalidInput(err), "no selection and no index")
}
