// Package progression orchestrates batch analysis of active deals and
// applies recommended stage changes.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/classify"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// CommsFetcher returns the recent communications for one account.
// *comms.Aggregator satisfies it.
type CommsFetcher interface {
	FetchRecent(ctx context.Context, accountID string, lookbackDays int) (model.RecentCommunications, error)
}

// Options are the tunable parameters for one run.
type Options struct {
	BatchSize    int
	LookbackDays int
	DryRun       bool
	BatchDelay   time.Duration
	DealTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 30
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = 2 * time.Second
	}
	if o.DealTimeout <= 0 {
		o.DealTimeout = 60 * time.Second
	}
	return o
}

// Runner drives progression runs end to end.
type Runner struct {
	store      store.Store
	comms      CommsFetcher
	classifier classify.Classifier
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(st store.Store, comms CommsFetcher, classifier classify.Classifier) *Runner {
	return &Runner{store: st, comms: comms, classifier: classifier}
}

// Run executes one progression pass: select active deals, analyze them in
// batches, and apply recommended stage changes. Individual deal failures
// are recorded as error outcomes; only deal selection failure aborts the
// run. The returned Summary is valid even when err is non-nil.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	opts = opts.withDefaults()
	started := time.Now().UTC()

	summary := &Summary{
		Params: model.RunParams{
			BatchSize:    opts.BatchSize,
			LookbackDays: opts.LookbackDays,
			DryRun:       opts.DryRun,
		},
		StartedAt: started,
	}

	// Run record is best-effort bookkeeping; a store hiccup here must not
	// block the actual analysis.
	run, err := r.store.CreateRun(ctx, summary.Params)
	if err != nil {
		zap.L().Warn("failed to create run record", zap.Error(err))
	} else {
		summary.RunID = run.ID
	}

	deals, err := r.store.ListActiveDeals(ctx)
	if err != nil {
		summary.Stats.Errors++
		summary.FinishedAt = time.Now().UTC()
		r.finishRun(ctx, summary, model.RunStatusFailed)
		return summary, eris.Wrap(err, "progression: list active deals")
	}

	summary.Stats.TotalDeals = len(deals)
	zap.L().Info("starting progression run",
		zap.String("run_id", summary.RunID),
		zap.Int("total_deals", len(deals)),
		zap.Int("batch_size", opts.BatchSize),
		zap.Int("days_lookback", opts.LookbackDays),
		zap.Bool("dry_run", opts.DryRun),
	)

	batches := partition(deals, opts.BatchSize)
	for bi, batch := range batches {
		outcomes := make(chan model.DealOutcome, len(batch))

		g := new(errgroup.Group)
		g.SetLimit(opts.BatchSize)
		for _, deal := range batch {
			g.Go(func() error {
				outcomes <- r.processDeal(ctx, deal, opts)
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)

		// Single-owner accumulation: workers only send, the run loop tallies.
		for o := range outcomes {
			summary.Stats.Record(o)
			summary.Outcomes = append(summary.Outcomes, o)
		}

		zap.L().Info("batch complete",
			zap.Int("batch", bi+1),
			zap.Int("batches", len(batches)),
			zap.Int("deals_analyzed", summary.Stats.DealsAnalyzed),
		)

		if bi < len(batches)-1 {
			select {
			case <-ctx.Done():
				summary.FinishedAt = time.Now().UTC()
				r.finishRun(ctx, summary, model.RunStatusFailed)
				return summary, eris.Wrap(ctx.Err(), "progression: run cancelled")
			case <-time.After(opts.BatchDelay):
			}
		}
	}

	summary.FinishedAt = time.Now().UTC()
	r.finishRun(ctx, summary, model.RunStatusCompleted)

	zap.L().Info("progression run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("total_deals", summary.Stats.TotalDeals),
		zap.Int("stages_updated", summary.Stats.StagesUpdated),
		zap.Int("dry_run_updates", summary.Stats.DryRunUpdates),
		zap.Int("no_change", summary.Stats.NoChange),
		zap.Int("skipped", summary.Stats.Skipped),
		zap.Int("errors", summary.Stats.Errors),
		zap.Duration("duration", summary.FinishedAt.Sub(started)),
	)
	return summary, nil
}

// processDeal analyzes one deal and returns its outcome. It never returns
// an error: every failure mode maps to an outcome so one deal cannot take
// down the run.
func (r *Runner) processDeal(ctx context.Context, deal model.Deal, opts Options) (outcome model.DealOutcome) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("panic while processing deal",
				zap.String("deal_id", deal.ID),
				zap.Any("panic", p),
			)
			outcome = model.DealOutcome{
				DealID: deal.ID,
				Status: model.OutcomeError,
				Err:    fmt.Sprintf("panic: %v", p),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, opts.DealTimeout)
	defer cancel()

	recent, err := r.comms.FetchRecent(ctx, deal.AccountID, opts.LookbackDays)
	if err != nil {
		return model.DealOutcome{DealID: deal.ID, Status: model.OutcomeError, Err: err.Error()}
	}

	if recent.Empty() {
		zap.L().Debug("skipping deal with no recent communications",
			zap.String("deal_id", deal.ID),
			zap.String("account_id", deal.AccountID),
		)
		return model.DealOutcome{
			DealID: deal.ID,
			Status: model.OutcomeSkipped,
			Reason: model.SkipReasonNoCommunications,
		}
	}

	rec, err := r.classifier.Recommend(ctx, classify.Input{Deal: deal, Comms: recent})
	if err != nil {
		zap.L().Warn("classification failed",
			zap.String("deal_id", deal.ID),
			zap.Error(err),
		)
		return model.DealOutcome{DealID: deal.ID, Status: model.OutcomeError, Err: err.Error()}
	}

	if !rec.ShouldUpdate || rec.RecommendedStage == deal.Stage {
		return model.DealOutcome{
			DealID:     deal.ID,
			Status:     model.OutcomeNoChange,
			OldStage:   deal.Stage,
			Confidence: rec.Confidence,
		}
	}

	if rec.RecommendedStage.Rank() < deal.Stage.Rank() {
		zap.L().Warn("ignoring backward stage recommendation",
			zap.String("deal_id", deal.ID),
			zap.String("current", string(deal.Stage)),
			zap.String("recommended", string(rec.RecommendedStage)),
		)
		return model.DealOutcome{
			DealID:     deal.ID,
			Status:     model.OutcomeNoChange,
			OldStage:   deal.Stage,
			Confidence: rec.Confidence,
		}
	}

	if opts.DryRun {
		zap.L().Info("dry run: would update deal stage",
			zap.String("deal_id", deal.ID),
			zap.String("from", string(deal.Stage)),
			zap.String("to", string(rec.RecommendedStage)),
			zap.Float64("confidence", rec.Confidence),
			zap.String("reasoning", rec.Reasoning),
		)
		return model.DealOutcome{
			DealID:     deal.ID,
			Status:     model.OutcomeDryRunUpdate,
			OldStage:   deal.Stage,
			NewStage:   rec.RecommendedStage,
			Confidence: rec.Confidence,
		}
	}

	return r.applyStageChange(ctx, deal, rec)
}

func (r *Runner) applyStageChange(ctx context.Context, deal model.Deal, rec *model.StageRecommendation) model.DealOutcome {
	err := r.store.UpdateDealStage(ctx, deal.ID, deal.Stage, rec.RecommendedStage)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStaleStage):
		// Re-read for the audit trail so the log names the stage that won.
		observed := ""
		if cur, gerr := r.store.GetDeal(ctx, deal.ID); gerr == nil {
			observed = string(cur.Stage)
		}
		zap.L().Info("deal stage changed concurrently, skipping",
			zap.String("deal_id", deal.ID),
			zap.String("expected", string(deal.Stage)),
			zap.String("observed", observed),
		)
		return model.DealOutcome{
			DealID:   deal.ID,
			Status:   model.OutcomeSkipped,
			Reason:   model.SkipReasonStale,
			OldStage: deal.Stage,
		}
	default:
		return model.DealOutcome{DealID: deal.ID, Status: model.OutcomeError, Err: err.Error()}
	}

	// Cache invalidation is advisory; the write already committed.
	if err := r.store.InvalidateDealCache(ctx, store.DealListCacheKey, store.DealCacheKey(deal.ID)); err != nil {
		zap.L().Warn("cache invalidation failed",
			zap.String("deal_id", deal.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("deal stage updated",
		zap.String("deal_id", deal.ID),
		zap.String("deal_name", deal.Name),
		zap.String("from", string(deal.Stage)),
		zap.String("to", string(rec.RecommendedStage)),
		zap.Float64("confidence", rec.Confidence),
		zap.String("reasoning", rec.Reasoning),
	)
	return model.DealOutcome{
		DealID:     deal.ID,
		Status:     model.OutcomeUpdated,
		OldStage:   deal.Stage,
		NewStage:   rec.RecommendedStage,
		Confidence: rec.Confidence,
	}
}

// finishRun persists the final run record, best-effort. The context is
// detached so a cancelled run still records its failure.
func (r *Runner) finishRun(ctx context.Context, summary *Summary, status model.RunStatus) {
	if summary.RunID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	stats := summary.Stats
	if err := r.store.FinishRun(ctx, summary.RunID, status, &stats); err != nil {
		zap.L().Warn("failed to finish run record",
			zap.String("run_id", summary.RunID),
			zap.Error(err),
		)
	}
}

func partition(deals []model.Deal, size int) [][]model.Deal {
	var batches [][]model.Deal
	for i := 0; i < len(deals); i += size {
		end := min(i+size, len(deals))
		batches = append(batches, deals[i:end])
	}
	return batches
}
