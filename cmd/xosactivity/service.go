package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/activity"
	"github.com/gateway-fm/xosactivity/internal/config"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/logstream"
	"github.com/gateway-fm/xosactivity/internal/provider"
	"github.com/gateway-fm/xosactivity/internal/proxy"
	"github.com/gateway-fm/xosactivity/internal/scheduler"
	"github.com/gateway-fm/xosactivity/internal/storage"
	"github.com/gateway-fm/xosactivity/internal/wallet"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Service implements the control surface on top of the engine components.
type Service struct {
	chainID  int64
	accounts []*account.Account
	proxies  proxy.List

	resolver *provider.Resolver
	executor *activity.Executor
	sched    *scheduler.Scheduler
	wallets  *wallet.Snapshotter
	activity *config.ActivityStore
	store    storage.Storage
	hub      *logstream.Hub
	logger   *slog.Logger
}

// Status implements transport.ActivityAPI.
func (s *Service) Status() types.StatusResponse {
	st := s.sched.Status()
	return types.StatusResponse{
		State:         st.State,
		StopRequested: st.StopRequested,
		InFlight:      st.InFlight,
		CycleID:       st.CycleID,
		StartedAt:     st.StartedAt,
		NextRunAt:     st.NextRunAt,
		Accounts:      len(s.accounts),
		Proxies:       len(s.proxies),
		ChainID:       s.chainID,
		Config:        s.activity.Current().ToAPI(),
	}
}

// Start implements transport.ActivityAPI.
func (s *Service) Start() error {
	return s.sched.Start()
}

// Stop implements transport.ActivityAPI.
func (s *Service) Stop() error {
	return s.sched.Stop()
}

// Config implements transport.ActivityAPI.
func (s *Service) Config() types.ActivityConfig {
	return s.activity.Current().ToAPI()
}

// SetConfig implements transport.ActivityAPI. The new values apply from the
// next cycle on.
func (s *Service) SetConfig(cfg types.ActivityConfig) (types.ActivityConfig, error) {
	if err := s.activity.Save(config.ActivityConfigFromAPI(cfg)); err != nil {
		return types.ActivityConfig{}, err
	}
	return s.activity.Current().ToAPI(), nil
}

// Wallets implements transport.ActivityAPI. A negative selected keeps the
// current selection.
func (s *Service) Wallets(ctx context.Context, selected int) ([]types.WalletSnapshot, error) {
	if selected >= len(s.accounts) {
		return nil, errs.InvalidInput("selected", "account index %d out of range (have %d accounts)", selected, len(s.accounts))
	}
	if selected >= 0 {
		s.wallets.Select(selected)
	}
	return s.wallets.Refresh(ctx)
}

// CreateToken implements transport.ActivityAPI.
func (s *Service) CreateToken(ctx context.Context, req types.CreateTokenRequest) (*types.OperationResult, error) {
	acc, conn, meta, err := s.connectAccount(ctx, req.AccountIndex)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return s.executor.CreateToken(ctx, conn.Client, acc, req, meta)
}

// DeployContract implements transport.ActivityAPI.
func (s *Service) DeployContract(ctx context.Context, req types.DeployContractRequest) (*types.OperationResult, error) {
	acc, conn, meta, err := s.connectAccount(ctx, req.AccountIndex)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return s.executor.DeployContract(ctx, conn.Client, acc, req, meta)
}

// accountIndex resolves the account a manual operation runs on. Without an
// explicit index the wallet view's selected account is used.
func (s *Service) accountIndex(requested *int) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	i := s.wallets.Selected()
	if i < 0 {
		return 0, errs.InvalidInput("accountIndex", "no account selected")
	}
	return i, nil
}

func (s *Service) connectAccount(ctx context.Context, requested *int) (*account.Account, *provider.Connection, activity.Meta, error) {
	i, err := s.accountIndex(requested)
	if err != nil {
		return nil, nil, activity.Meta{}, err
	}
	if i < 0 || i >= len(s.accounts) {
		return nil, nil, activity.Meta{}, errs.InvalidInput("accountIndex", "account index %d out of range (have %d accounts)", i, len(s.accounts))
	}
	conn, err := s.resolver.Connect(ctx, s.proxies.For(i))
	if err != nil {
		return nil, nil, activity.Meta{}, fmt.Errorf("connect account %d: %w", i+1, err)
	}
	return s.accounts[i], conn, activity.Meta{Label: fmt.Sprintf("Account %d", i+1)}, nil
}

// ListOperations implements transport.ActivityAPI.
func (s *Service) ListOperations(ctx context.Context, filter storage.OperationFilter, limit, offset int) (*storage.PaginatedOperations, error) {
	return s.store.ListOperations(ctx, filter, limit, offset)
}

// ListCycles implements transport.ActivityAPI.
func (s *Service) ListCycles(ctx context.Context, limit, offset int) (*storage.PaginatedCycles, error) {
	return s.store.ListCycles(ctx, limit, offset)
}

// GetCycle implements transport.ActivityAPI.
func (s *Service) GetCycle(ctx context.Context, id string) (*types.CycleRecord, error) {
	return s.store.GetCycle(ctx, id)
}

// RecentLogs implements transport.ActivityAPI.
func (s *Service) RecentLogs(limit int) []types.LogEvent {
	return s.hub.Recent(limit)
}

// CheckRPC implements transport.HealthChecker. It opens a direct connection
// and verifies the chain ID.
func (s *Service) CheckRPC(ctx context.Context) error {
	conn, err := s.resolver.Connect(ctx, "")
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
