// Package scheduler runs the daily activity cycle over all accounts.
//
// A cycle walks the accounts in load order: connect, run the configured
// number of random swaps, check in, then move on. A completed cycle is
// re-armed after the reschedule interval. Stop is cooperative: it raises a
// flag, wakes every sleep and waits for in-flight work to drain.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/activity"
	"github.com/gateway-fm/xosactivity/internal/checkin"
	"github.com/gateway-fm/xosactivity/internal/config"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/metrics"
	"github.com/gateway-fm/xosactivity/internal/provider"
	"github.com/gateway-fm/xosactivity/internal/proxy"
	"github.com/gateway-fm/xosactivity/internal/rpc"
	"github.com/gateway-fm/xosactivity/internal/storage"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Connector opens a verified chain connection through a proxy.
type Connector interface {
	Connect(ctx context.Context, proxyURL string) (*provider.Connection, error)
}

// Operator executes and records single operations.
type Operator interface {
	Symbols() []string
	Swap(ctx context.Context, client rpc.Client, acc *account.Account, op types.SwapOperation, meta activity.Meta) error
	RecordCheckIn(ctx context.Context, acc *account.Account, outcome string, d time.Duration, err error, meta activity.Meta)
}

// CheckIner performs the daily check-in.
type CheckIner interface {
	CheckIn(ctx context.Context, token, proxyURL string) (checkin.Result, error)
}

// ConfigSource supplies the activity parameters at the start of a cycle.
type ConfigSource interface {
	Current() config.DailyActivityConfig
}

// NonceResetter forgets locally allocated nonces.
type NonceResetter interface {
	Reset()
}

// Config for creating a Scheduler.
type Config struct {
	Accounts []*account.Account
	Proxies  proxy.List

	Connector Connector
	Operator  Operator
	CheckIn   CheckIner
	Activity  ConfigSource
	Nonces    NonceResetter
	Recorder  storage.Recorder         // optional
	Metrics   *metrics.PrometheusMetrics // optional
	Logger    *slog.Logger

	// Precision maps a symbol to the decimal places drawn amounts are
	// rounded to. NativeSymbol names the native coin in that map.
	Precision    map[string]int32
	NativeSymbol string

	SwapDelayMin time.Duration
	SwapDelayMax time.Duration
	AccountDelay time.Duration
	Reschedule   time.Duration
	StopPoll     time.Duration

	// BaseContext is the context of network calls. Stop does not cancel
	// it; in-flight calls run to completion.
	BaseContext context.Context
	Rand        *rand.Rand
}

// Status is a snapshot of the scheduler state.
type Status struct {
	State         types.CycleState
	StopRequested bool
	InFlight      int64
	CycleID       string
	StartedAt     *time.Time
	NextRunAt     *time.Time
}

// Scheduler owns the cycle state machine.
type Scheduler struct {
	cfg    Config
	ctx    context.Context
	rng    *rand.Rand
	logger *slog.Logger

	mu        sync.Mutex
	state     types.CycleState
	cycleID   string
	startedAt *time.Time
	nextRunAt *time.Time
	stopCh    chan struct{}
	done      chan struct{}
	idle      chan struct{}
	timer     *time.Timer

	stopRequested atomic.Bool
	stopLogged    atomic.Bool
	inFlight      atomic.Int64
}

// New creates an idle scheduler. Zero durations take the service defaults.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SwapDelayMax < cfg.SwapDelayMin {
		cfg.SwapDelayMax = cfg.SwapDelayMin
	}
	if cfg.SwapDelayMin == 0 && cfg.SwapDelayMax == 0 {
		cfg.SwapDelayMin = config.DefaultSwapDelayMin
		cfg.SwapDelayMax = config.DefaultSwapDelayMax
	}
	if cfg.AccountDelay == 0 {
		cfg.AccountDelay = config.DefaultAccountDelay
	}
	if cfg.Reschedule <= 0 {
		cfg.Reschedule = config.DefaultReschedule
	}
	if cfg.StopPoll <= 0 {
		cfg.StopPoll = config.DefaultStopPoll
	}
	if cfg.NativeSymbol == "" {
		cfg.NativeSymbol = "XOS"
	}
	ctx := cfg.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x786f73))
	}

	idle := make(chan struct{})
	close(idle)
	done := make(chan struct{})
	close(done)

	s := &Scheduler{
		cfg:    cfg,
		ctx:    ctx,
		rng:    rng,
		logger: logger,
		state:  types.StateIdle,
		idle:   idle,
		done:   done,
	}
	s.cfg.Metrics.SetCycleState(types.StateIdle)
	return s
}

// StopRequested implements nonce.StopSignal.
func (s *Scheduler) StopRequested() bool {
	return s.stopRequested.Load()
}

// Status returns the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:         s.state,
		StopRequested: s.stopRequested.Load(),
		InFlight:      s.inFlight.Load(),
		CycleID:       s.cycleID,
		StartedAt:     s.startedAt,
		NextRunAt:     s.nextRunAt,
	}
}

// Start launches a cycle. It fails with ErrAlreadyRunning unless idle.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StateIdle {
		return errs.ErrAlreadyRunning
	}
	if len(s.cfg.Accounts) == 0 {
		return errs.InvalidInput("accounts", "no accounts loaded")
	}

	s.stopRequested.Store(false)
	s.stopLogged.Store(false)
	s.stopCh = make(chan struct{})
	s.idle = make(chan struct{})
	s.beginLocked()
	return nil
}

// resume is the reschedule timer callback. It goes through the same guard
// as Start: only a waiting scheduler with no stop pending re-enters Running.
func (s *Scheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.StateWaiting24h || s.stopRequested.Load() {
		return
	}
	s.timer = nil
	s.beginLocked()
}

func (s *Scheduler) beginLocked() {
	now := time.Now()
	s.state = types.StateRunning
	s.cycleID = uuid.New().String()
	s.startedAt = &now
	s.nextRunAt = nil
	s.done = make(chan struct{})
	s.cfg.Metrics.SetCycleState(types.StateRunning)

	go s.runCycle(s.cycleID, now, s.stopCh, s.done)
}

// Stop requests a cooperative stop. It returns immediately; use WaitIdle
// to wait for the drain to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	switch s.state {
	case types.StateIdle:
		s.mu.Unlock()
		return errs.ErrNotRunning
	case types.StateStopping:
		s.mu.Unlock()
		return nil
	}

	s.state = types.StateStopping
	s.stopRequested.Store(true)
	close(s.stopCh)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextRunAt = nil
	done := s.done
	s.mu.Unlock()

	s.cfg.Metrics.SetCycleState(types.StateStopping)
	s.logger.Info("Stopping daily activity. Please wait for ongoing processes to complete.")
	go s.drain(done)
	return nil
}

func (s *Scheduler) drain(done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.StopPoll)
	defer ticker.Stop()

	for {
		n := s.inFlight.Load()
		select {
		case <-done:
			if n == 0 {
				s.finishStop()
				return
			}
		default:
		}
		if n > 0 {
			s.logger.Info(fmt.Sprintf("Waiting for %d processes to complete...", n), slog.Int64("inFlight", n))
		}
		<-ticker.C
	}
}

func (s *Scheduler) finishStop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetNonces()
	s.stopRequested.Store(false)
	s.state = types.StateIdle
	s.cycleID = ""
	s.startedAt = nil
	close(s.idle)
	s.cfg.Metrics.SetCycleState(types.StateIdle)
	s.logger.Info("Daily activity stopped successfully")
}

// WaitIdle blocks until the scheduler is idle or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tally struct {
	succeeded, failed, skipped int
}

func (t *tally) add(status types.OperationStatus) {
	switch status {
	case types.OpStatusSuccess:
		t.succeeded++
	case types.OpStatusFailed:
		t.failed++
	case types.OpStatusSkipped:
		t.skipped++
	}
}

func (s *Scheduler) runCycle(cycleID string, startedAt time.Time, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	cfg := s.cfg.Activity.Current()
	apiCfg := cfg.ToAPI()
	record := &types.CycleRecord{
		ID:        cycleID,
		StartedAt: startedAt,
		Status:    storage.CycleRunning,
		Accounts:  len(s.cfg.Accounts),
		Config:    &apiCfg,
	}
	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.CreateCycle(s.ctx, record); err != nil {
			s.logger.Warn("Failed to record cycle", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Starting daily activity",
		slog.String("cycleId", cycleID),
		slog.Int("accounts", len(s.cfg.Accounts)),
		slog.Int("swapRepetitions", cfg.SwapRepetitions),
	)

	var t tally
	for i, acc := range s.cfg.Accounts {
		if s.stopRequested.Load() {
			s.logStopped()
			break
		}
		s.processAccount(i, acc, cfg, cycleID, stop, &t)

		if i < len(s.cfg.Accounts)-1 && !s.stopRequested.Load() {
			s.logger.Info(fmt.Sprintf("Waiting %s before next account...", s.cfg.AccountDelay))
			if !s.sleep(stop, s.cfg.AccountDelay) {
				break
			}
		}
	}

	s.completeCycle(record, t)
}

func (s *Scheduler) completeCycle(record *types.CycleRecord, t tally) {
	stopped := s.stopRequested.Load()
	now := time.Now()
	record.CompletedAt = &now
	record.Succeeded, record.Failed, record.Skipped = t.succeeded, t.failed, t.skipped
	record.Status = storage.CycleCompleted
	if stopped {
		record.Status = storage.CycleStopped
	}
	if s.cfg.Recorder != nil {
		if err := s.cfg.Recorder.CompleteCycle(s.ctx, record); err != nil {
			s.logger.Warn("Failed to record cycle completion", slog.String("error", err.Error()))
		}
	}
	s.cfg.Metrics.RecordCycle(record.Status)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stopped || s.state != types.StateRunning || s.inFlight.Load() != 0 {
		return
	}

	s.resetNonces()
	next := now.Add(s.cfg.Reschedule)
	s.state = types.StateWaiting24h
	s.nextRunAt = &next
	s.timer = time.AfterFunc(s.cfg.Reschedule, s.resume)
	s.cfg.Metrics.SetCycleState(types.StateWaiting24h)
	s.logger.Info("Daily activity completed",
		slog.String("cycleId", record.ID),
		slog.Int("succeeded", t.succeeded),
		slog.Int("failed", t.failed),
		slog.Int("skipped", t.skipped),
		slog.Time("nextRunAt", next),
	)
}

func (s *Scheduler) processAccount(i int, acc *account.Account, cfg config.DailyActivityConfig, cycleID string, stop <-chan struct{}, t *tally) {
	label := fmt.Sprintf("Account %d", i+1)
	logger := s.logger.With(slog.String("account", label))
	meta := activity.Meta{CycleID: cycleID, Label: label}
	proxyURL := s.cfg.Proxies.For(i)

	logger.Info("Processing account",
		slog.String("address", account.ShortAddress(acc.Address)),
		slog.String("proxy", proxy.Redact(proxyURL)),
	)

	conn, err := s.cfg.Connector.Connect(s.ctx, proxyURL)
	if err != nil {
		s.cfg.Metrics.RecordConnect("failed")
		logger.Error("Failed to connect, skipping account", slog.String("error", err.Error()))
		t.skipped++
		return
	}
	defer conn.Close()
	if conn.Direct {
		s.cfg.Metrics.RecordConnect("direct")
	} else {
		s.cfg.Metrics.RecordConnect("proxy")
	}

	symbols := s.cfg.Operator.Symbols()
	for r := 0; r < cfg.SwapRepetitions; r++ {
		if s.stopRequested.Load() {
			s.logStopped()
			return
		}

		op, ok := s.drawSwap(cfg, symbols)
		if !ok {
			logger.Warn("No swap range for drawn token, skipping swap")
			t.skipped++
		} else {
			logger.Info(fmt.Sprintf("Swap %d/%d", r+1, cfg.SwapRepetitions),
				slog.String("direction", string(op.Direction)),
				slog.String("token", op.Token),
				slog.String("amount", op.Amount),
			)
			err := s.track(func() error {
				return s.cfg.Operator.Swap(s.ctx, conn.Client, acc, op, meta)
			})
			t.add(activity.Status(err))
			switch {
			case err == nil:
			case errors.Is(err, errs.ErrProcessStopped):
				s.logStopped()
				return
			default:
				logger.Error("Swap failed", slog.String("error", err.Error()), slog.String("kind", errs.Kind(err)))
			}
		}

		if r < cfg.SwapRepetitions-1 {
			delay := s.swapDelay()
			logger.Info(fmt.Sprintf("Waiting %s before next swap...", delay))
			if !s.sleep(stop, delay) {
				return
			}
		}
	}

	if s.stopRequested.Load() {
		return
	}
	logger.Info("Performing daily check-in")
	start := time.Now()
	var res checkin.Result
	err = s.track(func() error {
		var err error
		res, err = s.cfg.CheckIn.CheckIn(s.ctx, acc.AuthToken, proxyURL)
		return err
	})
	s.cfg.Operator.RecordCheckIn(s.ctx, acc, string(res.Outcome), time.Since(start), err, meta)
	t.add(activity.Status(err))
}

func (s *Scheduler) swapDelay() time.Duration {
	span := s.cfg.SwapDelayMax - s.cfg.SwapDelayMin
	if span <= 0 {
		return s.cfg.SwapDelayMin
	}
	return s.cfg.SwapDelayMin + time.Duration(s.rng.Int64N(int64(span)+1))
}

// track counts fn as in-flight work.
func (s *Scheduler) track(fn func() error) error {
	s.cfg.Metrics.SetInFlight(s.inFlight.Add(1))
	defer func() {
		s.cfg.Metrics.SetInFlight(s.inFlight.Add(-1))
	}()
	return fn()
}

// sleep waits for d or a stop, whichever comes first. It reports whether
// the full duration elapsed.
func (s *Scheduler) sleep(stop <-chan struct{}, d time.Duration) bool {
	completed := false
	_ = s.track(func() error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			completed = true
		case <-stop:
			s.logStopped()
		}
		return nil
	})
	return completed
}

func (s *Scheduler) resetNonces() {
	if s.cfg.Nonces != nil {
		s.cfg.Nonces.Reset()
	}
}

func (s *Scheduler) logStopped() {
	if s.stopLogged.CompareAndSwap(false, true) {
		s.logger.Info("Process stopped")
	}
}
