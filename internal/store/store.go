// Package store persists deals, run records, and the keyed read cache.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/dealflow/internal/model"
)

// Sentinel errors for conditional stage writes. Callers match with
// errors.Is; store implementations wrap them with context.
var (
	// ErrDealNotFound means the deal id has no row.
	ErrDealNotFound = errors.New("deal not found")
	// ErrStaleStage means the deal exists but its stage no longer matches
	// the snapshot the caller based its write on.
	ErrStaleStage = errors.New("stage precondition failed")
)

// DealListCacheKey is the read-cache key for the active deal list.
const DealListCacheKey = "deals:active"

// DealCacheKey returns the read-cache key for a single deal.
func DealCacheKey(dealID string) string {
	return "deal:" + dealID
}

// Store defines the persistence interface for the progression pipeline.
type Store interface {
	// Deals
	ListActiveDeals(ctx context.Context) ([]model.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	// UpdateDealStage conditionally moves a deal from one stage to another,
	// refreshing updated_at and last_contact_date. Returns ErrStaleStage if
	// the deal's stage no longer equals from, ErrDealNotFound if the deal
	// does not exist.
	UpdateDealStage(ctx context.Context, dealID string, from, to model.Stage) error
	InvalidateDealCache(ctx context.Context, keys ...string) error

	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStatistics) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
