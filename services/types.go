package services

import (
	"context"
	"time"
)

// ServiceType identifies the role of a deployed service.
type ServiceType string

const (
	UnitService    ServiceType = "unit"
	CoordinatorService ServiceType = "coordinator"
)

// Valid returns true if the service type is recognized.
func (t ServiceType) Valid() bool {
	switch t {
	case UnitService, CoordinatorService:
		return true
	}
	return false
}

// RegisteredUnit is the registration of one unit with the barrier service.
type RegisteredUnit struct {
	Rank         int    `json:"rank"`
	HTTPEndpoint string `json:"http_endpoint"`
}

// UnitListResponse lists every registered unit ordered by rank.
type UnitListResponse struct {
	Units []*RegisteredUnit `json:"units"`
}

// RunRecord is the persisted summary of one sort run.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	Transport  string        `json:"transport"`
	Requested  int           `json:"requested"`
	Padded     int           `json:"padded"`
	Units      int           `json:"units"`
	ShardLen   int           `json:"shard_len"`
	Sorted     bool          `json:"sorted"`
	FirstError int           `json:"first_error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	StartedAt  time.Time     `json:"started_at"`
}

// RunStore persists run history.
type RunStore interface {
	SaveRun(ctx context.Context, run *RunRecord) error

	// ListRuns returns up to limit runs, most recent first. A limit <= 0
	// returns every run.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	Close() error
}
