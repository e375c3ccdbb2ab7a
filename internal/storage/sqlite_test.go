package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

func TestJoinStrings(t *testing.T) {
	tests := []struct {
		name string
		strs []string
		sep  string
		want string
	}{
		{name: "empty slice", strs: []string{}, sep: ", ", want: ""},
		{name: "single element", strs: []string{"hello"}, sep: ", ", want: "hello"},
		{name: "two elements", strs: []string{"hello", "world"}, sep: ", ", want: "hello, world"},
		{name: "and separator", strs: []string{"a", "b", "c"}, sep: " AND ", want: "a AND b AND c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := joinStrings(tt.strs, tt.sep)
			if got != tt.want {
				t.Errorf("joinStrings(%v, %q) = %q, want %q", tt.strs, tt.sep, got, tt.want)
			}
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"operations", true},
		{"error_kind", true},
		{"", false},
		{"x'; DROP TABLE cycles; --", false},
		{"with space", false},
	}
	for _, tt := range tests {
		if got := isValidIdentifier(tt.in); got != tt.want {
			t.Errorf("isValidIdentifier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "storage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "history.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		storage.Close()
		os.RemoveAll(tmpDir)
	}

	return storage, cleanup
}

func TestNewSQLiteStorage(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if storage.db == nil {
		t.Fatal("expected db to be non-nil")
	}
	if !storage.columnExists("operations", "error_kind") {
		t.Error("expected migration to add operations.error_kind")
	}
	if !storage.columnExists("cycles", "error_message") {
		t.Error("expected migration to add cycles.error_message")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	if err := storage.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	// A regular file in the path cannot become a directory, even for root.
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewSQLiteStorage(filepath.Join(file, "sub", "history.db"))
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestCycleLifecycle(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Second)

	cycle := &types.CycleRecord{
		ID:        "cycle-1",
		StartedAt: started,
		Accounts:  2,
		Config: &types.ActivityConfig{
			SwapRepetitions: 2,
			XOSSwapRange:    types.Range{Min: 0.001, Max: 0.004},
		},
	}
	if err := storage.CreateCycle(ctx, cycle); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}

	got, err := storage.GetCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got == nil {
		t.Fatal("expected cycle to exist")
	}
	if got.Status != CycleRunning {
		t.Errorf("Status = %q, want %q", got.Status, CycleRunning)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil for a running cycle")
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Config == nil || got.Config.SwapRepetitions != 2 {
		t.Errorf("Config not round-tripped: %+v", got.Config)
	}

	cycle.Status = CycleCompleted
	cycle.Succeeded = 3
	cycle.Failed = 1
	if err := storage.CompleteCycle(ctx, cycle); err != nil {
		t.Fatalf("CompleteCycle: %v", err)
	}

	got, _ = storage.GetCycle(ctx, "cycle-1")
	if got.Status != CycleCompleted {
		t.Errorf("Status = %q, want %q", got.Status, CycleCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.Succeeded != 3 || got.Failed != 1 || got.Skipped != 0 {
		t.Errorf("counters = %d/%d/%d, want 3/1/0", got.Succeeded, got.Failed, got.Skipped)
	}
}

func TestCompleteUnknownCycle(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	err := storage.CompleteCycle(context.Background(), &types.CycleRecord{ID: "missing", Status: CycleStopped})
	if err == nil {
		t.Error("expected error for unknown cycle")
	}
}

func TestGetCycleNotFound(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	got, err := storage.GetCycle(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListCyclesPagination(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"a", "b", "c"} {
		c := &types.CycleRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := storage.CreateCycle(ctx, c); err != nil {
			t.Fatalf("CreateCycle(%s): %v", id, err)
		}
	}

	page, err := storage.ListCycles(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	if len(page.Cycles) != 2 {
		t.Fatalf("len = %d, want 2", len(page.Cycles))
	}
	if page.Cycles[0].ID != "c" || page.Cycles[1].ID != "b" {
		t.Errorf("order = %s,%s, want c,b", page.Cycles[0].ID, page.Cycles[1].ID)
	}

	page, _ = storage.ListCycles(ctx, 2, 2)
	if len(page.Cycles) != 1 || page.Cycles[0].ID != "a" {
		t.Errorf("second page = %+v, want [a]", page.Cycles)
	}
}

func TestRecordAndListOperations(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	ops := []*types.OperationRecord{
		{CycleID: "c1", Account: "0xAAA", Kind: types.OpSwap, Direction: types.NativeToToken, Token: "USDC", Amount: "0.002", TxHash: "0x01", Status: types.OpStatusSuccess, DurationMs: 1200},
		{CycleID: "c1", Account: "0xAAA", Kind: types.OpApprove, Token: "BNB", Amount: "0.0004", Status: types.OpStatusFailed, ErrorKind: "insufficient_balance", Error: "insufficient BNB balance"},
		{CycleID: "c1", Account: "0xBBB", Kind: types.OpCheckIn, Status: types.OpStatusSuccess},
		{Account: "0xBBB", Kind: types.OpCreateToken, TxHash: "0x04", Status: types.OpStatusSuccess},
	}
	for _, op := range ops {
		if err := storage.RecordOperation(ctx, op); err != nil {
			t.Fatalf("RecordOperation: %v", err)
		}
		if op.ID == 0 {
			t.Error("expected ID to be set")
		}
	}

	page, err := storage.ListOperations(ctx, OperationFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if page.Total != 4 {
		t.Errorf("Total = %d, want 4", page.Total)
	}
	if page.Operations[0].Kind != types.OpCreateToken {
		t.Errorf("newest first: got %s", page.Operations[0].Kind)
	}

	failed := page.Operations[2]
	if failed.ErrorKind != "insufficient_balance" || failed.Error == "" {
		t.Errorf("error fields not stored: %+v", failed)
	}
	swap := page.Operations[3]
	if swap.Direction != types.NativeToToken || swap.Amount != "0.002" || swap.DurationMs != 1200 {
		t.Errorf("swap not round-tripped: %+v", swap)
	}

	tests := []struct {
		name   string
		filter OperationFilter
		want   int
	}{
		{"by cycle", OperationFilter{CycleID: "c1"}, 3},
		{"by account case-insensitive", OperationFilter{Account: "0xbbb"}, 2},
		{"by kind", OperationFilter{Kind: types.OpSwap}, 1},
		{"by status", OperationFilter{Status: types.OpStatusFailed}, 1},
		{"combined", OperationFilter{CycleID: "c1", Status: types.OpStatusSuccess}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := storage.ListOperations(ctx, tt.filter, 10, 0)
			if err != nil {
				t.Fatalf("ListOperations: %v", err)
			}
			if page.Total != tt.want || len(page.Operations) != tt.want {
				t.Errorf("got total=%d len=%d, want %d", page.Total, len(page.Operations), tt.want)
			}
		})
	}
}

func TestOperationStats(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	statuses := []types.OperationStatus{
		types.OpStatusSuccess, types.OpStatusSuccess, types.OpStatusFailed,
		types.OpStatusSkipped, types.OpStatusStopped,
	}
	for _, st := range statuses {
		op := &types.OperationRecord{CycleID: "c1", Account: "0xAAA", Kind: types.OpSwap, Status: st}
		if err := storage.RecordOperation(ctx, op); err != nil {
			t.Fatalf("RecordOperation: %v", err)
		}
	}
	other := &types.OperationRecord{CycleID: "c2", Account: "0xAAA", Kind: types.OpSwap, Status: types.OpStatusSuccess}
	storage.RecordOperation(ctx, other)

	stats, err := storage.OperationStats(ctx, "c1")
	if err != nil {
		t.Fatalf("OperationStats: %v", err)
	}
	want := OperationStats{Total: 5, Succeeded: 2, Failed: 1, Skipped: 1, Stopped: 1}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}

	all, _ := storage.OperationStats(ctx, "")
	if all.Total != 6 {
		t.Errorf("all.Total = %d, want 6", all.Total)
	}
}

func TestUnmarshalJSONToleratesCorruption(t *testing.T) {
	storage, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := storage.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, status, config) VALUES (?, ?, ?, ?)`,
		"corrupt", time.Now().UTC(), CycleRunning, "{not json"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := storage.GetCycle(ctx, "corrupt")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got == nil || got.Config == nil {
		t.Fatal("expected cycle with empty config")
	}
	if got.Config.SwapRepetitions != 0 {
		t.Errorf("expected zero config, got %+v", got.Config)
	}
}
