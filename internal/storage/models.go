// Package storage provides persistence for activity cycle history.
package storage

import (
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// Cycle status values stored in the cycles table.
const (
	CycleRunning   = "running"
	CycleCompleted = "completed"
	CycleStopped   = "stopped"
	CycleError     = "error"
)

// PaginatedCycles is a page of cycle records, newest first.
type PaginatedCycles struct {
	Cycles []types.CycleRecord `json:"cycles"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// PaginatedOperations is a page of operation records, newest first.
type PaginatedOperations struct {
	Operations []types.OperationRecord `json:"operations"`
	Total      int                     `json:"total"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
}

// OperationFilter narrows ListOperations. Zero fields match everything.
type OperationFilter struct {
	CycleID string
	Account string
	Kind    types.OperationKind
	Status  types.OperationStatus
}

// OperationStats counts operations by status.
type OperationStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Stopped   int `json:"stopped"`
}
