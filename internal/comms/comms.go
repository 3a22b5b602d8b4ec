// Package comms gathers recent account communications for deal analysis.
package comms

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
)

// Interaction is one logged activity on an account (email, call, meeting).
// Timestamps arrive as strings because CRM APIs return several formats.
type Interaction struct {
	Type      string
	Subject   string
	Content   string
	Actor     string
	Timestamp string
}

// NoteEntry is one free-form note on an account.
type NoteEntry struct {
	Title     string
	Body      string
	Actor     string
	Timestamp string
}

// History is the raw communication history for one account.
type History struct {
	Interactions []Interaction
	Notes        []NoteEntry
}

// Source fetches raw account history from a CRM. The since parameter is a
// server-side cutoff hint; the aggregator still enforces the window locally.
type Source interface {
	AccountHistory(ctx context.Context, accountID string, since time.Time) (History, error)
}

// Aggregator filters raw account history down to the recent email and note
// communications the classifier consumes.
type Aggregator struct {
	src Source
	now func() time.Time
}

// NewAggregator creates an Aggregator over the given source.
func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src, now: time.Now}
}

// timestampLayouts are tried in order when parsing source timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FetchRecent returns the account's communications from the last
// lookbackDays days, newest state preserved as the source returned it.
// A source failure degrades to an empty result so one account's CRM
// hiccup reads as "nothing recent" rather than failing the deal.
func (a *Aggregator) FetchRecent(ctx context.Context, accountID string, lookbackDays int) (model.RecentCommunications, error) {
	cutoff := a.now().AddDate(0, 0, -lookbackDays)

	hist, err := a.src.AccountHistory(ctx, accountID, cutoff)
	if err != nil {
		zap.L().Warn("account history fetch failed, treating as no communications",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return model.RecentCommunications{}, nil
	}

	var out model.RecentCommunications
	for _, in := range hist.Interactions {
		if !isEmailLike(in.Type) {
			continue
		}
		ts, ok := a.parseTimestamp(accountID, in.Timestamp)
		if !ok || ts.Before(cutoff) {
			continue
		}
		out.Emails = append(out.Emails, model.Communication{
			Type:      model.CommTypeEmail,
			Timestamp: ts,
			Subject:   in.Subject,
			Content:   in.Content,
			Actor:     in.Actor,
		})
	}
	for _, n := range hist.Notes {
		ts, ok := a.parseTimestamp(accountID, n.Timestamp)
		if !ok || ts.Before(cutoff) {
			continue
		}
		out.Notes = append(out.Notes, model.Communication{
			Type:      model.CommTypeNote,
			Timestamp: ts,
			Subject:   n.Title,
			Content:   n.Body,
			Actor:     n.Actor,
		})
	}
	return out, nil
}

// parseTimestamp tries the known layouts. Unparseable timestamps drop the
// record with a warning rather than failing the whole fetch.
func (a *Aggregator) parseTimestamp(accountID, raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	zap.L().Warn("dropping communication with unparseable timestamp",
		zap.String("account_id", accountID),
		zap.String("timestamp", raw),
	)
	return time.Time{}, false
}

func isEmailLike(interactionType string) bool {
	return strings.Contains(strings.ToLower(interactionType), "email")
}
