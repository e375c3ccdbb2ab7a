package storage

import (
	"context"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Recorder is the write side used while a cycle runs.
type Recorder interface {
	RecordOperation(ctx context.Context, op *types.OperationRecord) error
	CreateCycle(ctx context.Context, cycle *types.CycleRecord) error
	CompleteCycle(ctx context.Context, cycle *types.CycleRecord) error
}

// Storage defines the persistence interface for activity history.
type Storage interface {
	Recorder

	// History queries
	GetCycle(ctx context.Context, id string) (*types.CycleRecord, error)
	ListCycles(ctx context.Context, limit, offset int) (*PaginatedCycles, error)
	ListOperations(ctx context.Context, filter OperationFilter, limit, offset int) (*PaginatedOperations, error)
	OperationStats(ctx context.Context, cycleID string) (*OperationStats, error)

	// Lifecycle
	Close() error
}
