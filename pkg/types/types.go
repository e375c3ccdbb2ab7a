// Package types contains public API types for the activity engine.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// CycleState is the scheduler state.
type CycleState string

const (
	StateIdle       CycleState = "idle"
	StateRunning    CycleState = "running"
	StateWaiting24h CycleState = "waiting_24h"
	StateStopping   CycleState = "stopping"
)

// AllCycleStates lists every state, for metrics.
var AllCycleStates = []CycleState{StateIdle, StateRunning, StateWaiting24h, StateStopping}

// SwapDirection is the direction of a swap relative to the native coin.
type SwapDirection string

const (
	NativeToToken SwapDirection = "NATIVE_TO_TOKEN"
	TokenToNative SwapDirection = "TOKEN_TO_NATIVE"
)

// OperationKind identifies what an operation or transaction does.
type OperationKind string

const (
	OpSwap           OperationKind = "swap"
	OpApprove        OperationKind = "approve"
	OpCheckIn        OperationKind = "check_in"
	OpCreateToken    OperationKind = "create_token"
	OpDeployContract OperationKind = "deploy_contract"
)

// OperationStatus is the outcome of an operation.
type OperationStatus string

const (
	OpStatusSuccess OperationStatus = "success"
	OpStatusFailed  OperationStatus = "failed"
	OpStatusSkipped OperationStatus = "skipped"
	OpStatusStopped OperationStatus = "stopped"
)

// Severity is the level of a log event.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// LogEvent is one entry of the operator-facing log stream.
type LogEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// TokenBalance is a formatted ERC20 balance.
type TokenBalance struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Decimals uint8  `json:"decimals"`
}

// WalletSnapshot is a point-in-time view of one account. It is always
// re-derived from the chain and never used as input to an operation.
type WalletSnapshot struct {
	Index         int            `json:"index"`
	Address       string         `json:"address"`
	NativeBalance string         `json:"nativeBalance"`
	Tokens        []TokenBalance `json:"tokens"`
	Selected      bool           `json:"selected"`
	Error         string         `json:"error,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SwapOperation describes one randomized swap. Amount is a decimal string in
// whole units of the input asset.
type SwapOperation struct {
	Direction SwapDirection `json:"direction"`
	Token     string        `json:"token"`
	Amount    string        `json:"amount"`
}

// Range is an inclusive amount range in whole units.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ActivityConfig is the wire form of the daily activity configuration.
type ActivityConfig struct {
	SwapRepetitions int              `json:"swapRepetitions"`
	XOSSwapRange    Range            `json:"xosSwapRange"`
	TokenSwapRanges map[string]Range `json:"tokenSwapRanges"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	State         CycleState     `json:"state"`
	StopRequested bool           `json:"stopRequested"`
	InFlight      int64          `json:"inFlight"`
	CycleID       string         `json:"cycleId,omitempty"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	NextRunAt     *time.Time     `json:"nextRunAt,omitempty"`
	Accounts      int            `json:"accounts"`
	Proxies       int            `json:"proxies"`
	ChainID       int64          `json:"chainId"`
	Config        ActivityConfig `json:"config"`
}

// CreateTokenRequest asks for a manual token creation.
type CreateTokenRequest struct {
	AccountIndex *int   `json:"accountIndex,omitempty"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Supply       string `json:"supply"`
}

// DeployContractRequest asks for a manual contract deployment.
type DeployContractRequest struct {
	AccountIndex *int   `json:"accountIndex,omitempty"`
	Name         string `json:"name"`
	Funding      string `json:"funding"`
}

// OperationResult is returned by manual operations.
type OperationResult struct {
	Kind        OperationKind `json:"kind"`
	Account     string        `json:"account"`
	TxHash      string        `json:"txHash,omitempty"`
	BlockNumber uint64        `json:"blockNumber,omitempty"`
	GasUsed     uint64        `json:"gasUsed,omitempty"`
}

// OperationRecord is a persisted operation, as served by the history API.
type OperationRecord struct {
	ID         int64           `json:"id"`
	CycleID    string          `json:"cycleId,omitempty"`
	Account    string          `json:"account"`
	Kind       OperationKind   `json:"kind"`
	Direction  SwapDirection   `json:"direction,omitempty"`
	Token      string          `json:"token,omitempty"`
	Amount     string          `json:"amount,omitempty"`
	TxHash     string          `json:"txHash,omitempty"`
	Status     OperationStatus `json:"status"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// CycleRecord is a persisted cycle summary.
type CycleRecord struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Status      string          `json:"status"`
	Accounts    int             `json:"accounts"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	Error       string          `json:"error,omitempty"`
	Config      *ActivityConfig `json:"config,omitempty"`
}
