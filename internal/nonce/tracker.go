// Package nonce allocates per-address transaction nonces within a cycle.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/xosactivity/internal/errs"
)

// PendingNoncer is the chain read the tracker needs.
type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// StopSignal reports whether a stop has been requested.
type StopSignal interface {
	StopRequested() bool
}

type neverStopped struct{}

func (neverStopped) StopRequested() bool { return false }

// Tracker reconciles locally allocated nonces with the chain's pending count.
// The zero value is not usable; call NewTracker.
type Tracker struct {
	mu     sync.Mutex
	last   map[common.Address]uint64
	stop   StopSignal
	logger *slog.Logger
}

// NewTracker creates a tracker. A nil stop signal never reports a stop.
func NewTracker(stop StopSignal, logger *slog.Logger) *Tracker {
	if stop == nil {
		stop = neverStopped{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		last:   make(map[common.Address]uint64),
		stop:   stop,
		logger: logger,
	}
}

// SetStopSignal replaces the stop signal. Used to break the construction
// cycle between the tracker and the scheduler that owns the stop flag.
func (t *Tracker) SetStopSignal(stop StopSignal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop == nil {
		stop = neverStopped{}
	}
	t.stop = stop
}

// Allocate returns the next nonce for address.
//
// The candidate is the chain's pending count P, or max(P, last+1) when a nonce
// was already handed out in this cycle. That keeps sequential operations on
// one account collision-free while the previous transaction is not yet
// reflected in the pending count.
func (t *Tracker) Allocate(ctx context.Context, client PendingNoncer, address string) (uint64, error) {
	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()

	if stop.StopRequested() {
		t.logger.Info("Nonce fetching stopped due to stop request")
		return 0, errs.ErrProcessStopped
	}
	if !common.IsHexAddress(address) {
		t.logger.Error("Invalid wallet address", slog.String("address", address))
		return 0, errs.ErrInvalidAddress
	}
	addr := common.HexToAddress(address)

	pending, err := client.PendingNonceAt(ctx, addr)
	if err != nil {
		t.logger.Error("Failed to fetch nonce",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("fetch pending nonce for %s: %w", addr.Hex(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := pending
	if last, ok := t.last[addr]; ok && last+1 > next {
		next = last + 1
	}
	t.last[addr] = next

	t.logger.Debug("Allocated nonce",
		slog.String("address", addr.Hex()),
		slog.Uint64("pending", pending),
		slog.Uint64("nonce", next),
	)
	return next, nil
}

// Last returns the last nonce allocated for address in this cycle.
func (t *Tracker) Last(address common.Address) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.last[address]
	return n, ok
}

// Len returns the number of tracked addresses.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// Reset forgets every allocation. Called when a cycle completes or stops.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.last = make(map[common.Address]uint64)
	t.mu.Unlock()
}
