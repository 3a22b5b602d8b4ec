package model

import "time"

// CommType tags the origin of a communication record.
type CommType string

const (
	CommTypeEmail CommType = "email"
	CommTypeNote  CommType = "note"
)

// Communication is a single piece of evidence read from the customer data
// source. Read-only input; never persisted by this service.
type Communication struct {
	Type      CommType  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Content   string    `json:"content"`
	Actor     string    `json:"actor,omitempty"`
}

// RecentCommunications holds the windowed evidence buckets for one deal.
type RecentCommunications struct {
	Emails []Communication `json:"emails"`
	Notes  []Communication `json:"notes"`
}

// Empty reports whether both buckets contain nothing.
func (rc RecentCommunications) Empty() bool {
	return len(rc.Emails) == 0 && len(rc.Notes) == 0
}

// Total returns the combined evidence count.
func (rc RecentCommunications) Total() int {
	return len(rc.Emails) + len(rc.Notes)
}
