// Package rpc provides the chain client contract used by the activity engine.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Client is the subset of the JSON-RPC surface the engine needs.
// *ethclient.Client satisfies it.
type Client interface {
	// ChainID returns the network identifier reported by the endpoint.
	ChainID(ctx context.Context) (*big.Int, error)

	// BalanceAt returns the native balance; nil block means latest.
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// PendingNonceAt returns the pending transaction count.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// CallContract executes a read-only call; nil block means latest.
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	// HeaderByNumber returns a block header; nil means latest.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// SuggestGasTipCap returns a priority fee suggestion.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns ethereum.NotFound while the tx is pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// Close releases the underlying connection.
	Close()
}

var _ Client = (*ethclient.Client)(nil)

// Dial connects to url through httpClient. A nil httpClient uses
// http.DefaultClient. Dialing an HTTP endpoint performs no I/O; callers
// validate the connection with ChainID.
func Dial(ctx context.Context, url string, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ethclient.NewClient(c), nil
}

// IsNotFound reports whether err means the requested object does not exist yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

// RevertData extracts the hex-encoded revert payload carried by a JSON-RPC
// error, if any.
func RevertData(err error) (string, bool) {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	data, ok := dataErr.ErrorData().(string)
	if !ok || !strings.HasPrefix(data, "0x") {
		return "", false
	}
	return data, true
}

// HTTPStatus returns the HTTP status code of a failed JSON-RPC round trip.
func HTTPStatus(err error) (int, bool) {
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying.
func IsRetryableStatus(code int) bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return code == 429 || code == 502 || code == 503 || code == 504
}
