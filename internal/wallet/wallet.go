// Package wallet builds read-only balance snapshots of the loaded accounts.
//
// Snapshots are for display. They are re-derived from the chain on every
// refresh and are never used as input to an operation.
package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/metrics"
	"github.com/gateway-fm/xosactivity/internal/provider"
	"github.com/gateway-fm/xosactivity/internal/proxy"
	"github.com/gateway-fm/xosactivity/internal/txbuilder"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// DefaultConcurrency bounds parallel account refreshes.
const DefaultConcurrency = 4

// Connector opens a verified chain connection through a proxy.
type Connector interface {
	Connect(ctx context.Context, proxyURL string) (*provider.Connection, error)
}

// Config for creating a Snapshotter.
type Config struct {
	Accounts     []*account.Account
	Proxies      proxy.List
	Tokens       []txbuilder.Token
	NativeSymbol string
	Connector    Connector
	Metrics      *metrics.PrometheusMetrics // optional
	Logger       *slog.Logger
	Concurrency  int
}

// Snapshotter refreshes and caches wallet snapshots.
type Snapshotter struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	latest   []types.WalletSnapshot
	selected int

	refresh chan struct{}

	subMu  sync.Mutex
	subs   map[chan []types.WalletSnapshot]struct{}
	nowFn  func() time.Time
	closed bool
}

// New creates a Snapshotter. Nothing is fetched until Refresh or Run.
func New(cfg Config) *Snapshotter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = "XOS"
	}
	return &Snapshotter{
		cfg:      cfg,
		logger:   logger,
		selected: 0,
		refresh:  make(chan struct{}, 1),
		subs:     make(map[chan []types.WalletSnapshot]struct{}),
		nowFn:    time.Now,
	}
}

// Select marks account i as the selected account. Out-of-range values
// clear the marker.
func (s *Snapshotter) Select(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.cfg.Accounts) {
		i = -1
	}
	s.selected = i
	for j := range s.latest {
		s.latest[j].Selected = j == i
	}
}

// Selected returns the selected account index, or -1.
func (s *Snapshotter) Selected() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Latest returns a copy of the last refreshed snapshots.
func (s *Snapshotter) Latest() []types.WalletSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.WalletSnapshot, len(s.latest))
	copy(out, s.latest)
	return out
}

// RequestRefresh asks Run for a refresh. It never blocks; requests made
// while one is pending are merged.
func (s *Snapshotter) RequestRefresh(common.Address) {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Run serves refresh requests until ctx is done.
func (s *Snapshotter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeSubscribers()
			return
		case <-s.refresh:
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Wallet refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh fetches every account concurrently, stores the result and pushes
// it to subscribers. Per-account failures are reported in the snapshot's
// Error field.
func (s *Snapshotter) Refresh(ctx context.Context) ([]types.WalletSnapshot, error) {
	snaps := make([]types.WalletSnapshot, len(s.cfg.Accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, acc := range s.cfg.Accounts {
		g.Go(func() error {
			snaps[i] = s.snapshot(gctx, i, acc)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range snaps {
		snaps[i].Selected = i == s.selected
	}
	s.latest = snaps
	s.mu.Unlock()

	out := s.Latest()
	s.publish(out)
	return out, nil
}

func (s *Snapshotter) snapshot(ctx context.Context, i int, acc *account.Account) types.WalletSnapshot {
	snap := types.WalletSnapshot{
		Index:     i,
		Address:   acc.Address.Hex(),
		Tokens:    []types.TokenBalance{},
		UpdatedAt: s.nowFn(),
	}
	logger := s.logger.With(slog.String("account", account.ShortAddress(acc.Address)))

	conn, err := s.cfg.Connector.Connect(ctx, s.cfg.Proxies.For(i))
	if err != nil {
		snap.Error = err.Error()
		return snap
	}
	defer conn.Close()

	native, err := conn.Client.BalanceAt(ctx, acc.Address, nil)
	if err != nil {
		snap.Error = err.Error()
		return snap
	}
	snap.NativeBalance = txbuilder.FormatUnits(native, txbuilder.NativeDecimals)
	s.cfg.Metrics.SetWalletBalance(snap.Address, s.cfg.NativeSymbol,
		txbuilder.FromUnits(native, txbuilder.NativeDecimals).InexactFloat64())

	for _, tok := range s.cfg.Tokens {
		bal, err := txbuilder.BalanceOf(ctx, conn.Client, tok.Address, acc.Address)
		if err != nil {
			logger.Debug("Token balance unavailable", slog.String("token", tok.Symbol), slog.String("error", err.Error()))
			continue
		}
		dec, err := txbuilder.Decimals(ctx, conn.Client, tok.Address)
		if err != nil {
			dec = tok.Decimals
		}
		snap.Tokens = append(snap.Tokens, types.TokenBalance{
			Symbol:   tok.Symbol,
			Address:  tok.Address.Hex(),
			Balance:  txbuilder.FormatUnits(bal, dec),
			Decimals: dec,
		})
		s.cfg.Metrics.SetWalletBalance(snap.Address, tok.Symbol, txbuilder.FromUnits(bal, dec).InexactFloat64())
	}
	return snap
}

// Subscribe returns a channel receiving every refreshed snapshot set. Slow
// subscribers miss updates rather than blocking a refresh.
func (s *Snapshotter) Subscribe() (<-chan []types.WalletSnapshot, func()) {
	ch := make(chan []types.WalletSnapshot, 1)
	s.subMu.Lock()
	if s.closed {
		close(ch)
		s.subMu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Snapshotter) publish(snaps []types.WalletSnapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snaps:
		default:
		}
	}
}

func (s *Snapshotter) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.closed = true
}
