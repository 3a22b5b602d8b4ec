package comms

import (
	"context"
	"time"

	"github.com/sells-group/dealflow/pkg/salesforce"
)

// SalesforceSource fetches account history from Salesforce Tasks and Notes.
type SalesforceSource struct {
	client salesforce.Client
}

// NewSalesforceSource creates a Source backed by the given Salesforce client.
func NewSalesforceSource(client salesforce.Client) *SalesforceSource {
	return &SalesforceSource{client: client}
}

func (s *SalesforceSource) AccountHistory(ctx context.Context, accountID string, since time.Time) (History, error) {
	activities, err := salesforce.FetchAccountActivity(ctx, s.client, accountID, since)
	if err != nil {
		return History{}, err
	}
	notes, err := salesforce.FetchAccountNotes(ctx, s.client, accountID, since)
	if err != nil {
		return History{}, err
	}

	hist := History{
		Interactions: make([]Interaction, 0, len(activities)),
		Notes:        make([]NoteEntry, 0, len(notes)),
	}
	for _, a := range activities {
		ts := a.CreatedDate
		if a.ActivityDate != "" {
			ts = a.ActivityDate
		}
		hist.Interactions = append(hist.Interactions, Interaction{
			Type:      a.TaskSubtype,
			Subject:   a.Subject,
			Content:   a.Description,
			Actor:     a.OwnerName,
			Timestamp: ts,
		})
	}
	for _, n := range notes {
		hist.Notes = append(hist.Notes, NoteEntry{
			Title:     n.Title,
			Body:      n.Body,
			Actor:     n.OwnerName,
			Timestamp: n.CreatedDate,
		})
	}
	return hist, nil
}
