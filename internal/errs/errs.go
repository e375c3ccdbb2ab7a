// Package errs defines the error taxonomy shared by the activity engine.
//
// Callers classify failures with errors.Is / errors.As rather than string
// matching. Struct errors carry the values a log line or API response needs.
package errs

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gateway-fm/xosactivity/internal/rpc"
)

// Sentinel errors.
var (
	// ErrProcessStopped signals cooperative cancellation. It is not a failure.
	ErrProcessStopped = errors.New("process stopped")

	// ErrAlreadyRunning is returned when a cycle is requested while one is active.
	ErrAlreadyRunning = errors.New("activity cycle already running")

	// ErrNotRunning is returned when stop is requested while idle.
	ErrNotRunning = errors.New("activity cycle not running")

	// ErrReceiptTimeout is returned when a sent transaction is not mined in time.
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

	// ErrInvalidAddress is returned for malformed hex addresses.
	ErrInvalidAddress = &InvalidInputError{Field: "address", Reason: "invalid wallet address"}
)

// InvalidInputError is a caller error. It is never retried.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// InvalidInput builds an InvalidInputError.
func InvalidInput(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError reports a pre-flight balance shortfall.
// Amounts are in the asset's smallest unit.
type InsufficientBalanceError struct {
	Asset     string
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s", e.Asset, e.Available, e.Required)
}

// InsufficientFundingError reports funding below a contract's required fee.
type InsufficientFundingError struct {
	Required *big.Int
	Provided *big.Int
}

func (e *InsufficientFundingError) Error() string {
	return fmt.Sprintf("insufficient funding: provided %s, deployment fee %s", e.Provided, e.Required)
}

// ChainIDMismatchError means the endpoint serves a different network.
type ChainIDMismatchError struct {
	Expected *big.Int
	Got      *big.Int
}

func (e *ChainIDMismatchError) Error() string {
	return fmt.Sprintf("network chain ID mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ProviderUnavailableError is returned after proxied retries and the direct
// fallback have all failed.
type ProviderUnavailableError struct {
	Attempts int
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// TransactionRevertedError is an on-chain failure with a best-effort reason.
type TransactionRevertedError struct {
	TxHash      string
	BlockNumber uint64
	Reason      string
}

func (e *TransactionRevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted in block %d: %s", e.TxHash, e.BlockNumber, e.Reason)
}

// Retryable reports whether err belongs to the transient class.
func Retryable(err error) bool {
	var unavailable *ProviderUnavailableError
	return errors.As(err, &unavailable) || errors.Is(err, ErrReceiptTimeout) || throttled(err)
}

// throttled reports whether the RPC endpoint answered with a transient HTTP
// status such as 429 or 503.
func throttled(err error) bool {
	code, ok := rpc.HTTPStatus(err)
	return ok && rpc.IsRetryableStatus(code)
}

// IsInvalidInput reports whether err is a caller error.
func IsInvalidInput(err error) bool {
	var invalid *InvalidInputError
	return errors.As(err, &invalid)
}

// Kind returns a short stable label for metrics and storage.
func Kind(err error) string {
	var (
		invalid     *InvalidInputError
		balance     *InsufficientBalanceError
		funding     *InsufficientFundingError
		mismatch    *ChainIDMismatchError
		unavailable *ProviderUnavailableError
		reverted    *TransactionRevertedError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrProcessStopped):
		return "stopped"
	case errors.As(err, &invalid):
		return "invalid_input"
	case errors.As(err, &balance):
		return "insufficient_balance"
	case errors.As(err, &funding):
		return "insufficient_funding"
	case errors.As(err, &mismatch):
		return "chain_id_mismatch"
	case errors.As(err, &unavailable):
		return "provider_unavailable"
	case errors.As(err, &reverted):
		return "reverted"
	case errors.Is(err, ErrReceiptTimeout):
		return "receipt_timeout"
	case throttled(err):
		return "rpc_throttled"
	default:
		return "other"
	}
}
