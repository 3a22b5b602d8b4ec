package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ActivityRecord represents a Salesforce Task record (emails, calls, meetings).
type ActivityRecord struct {
	ID           string `json:"Id" salesforce:"Id"`
	Subject      string `json:"Subject" salesforce:"Subject"`
	Description  string `json:"Description" salesforce:"Description"`
	TaskSubtype  string `json:"TaskSubtype" salesforce:"TaskSubtype"`
	ActivityDate string `json:"ActivityDate" salesforce:"ActivityDate"`
	CreatedDate  string `json:"CreatedDate" salesforce:"CreatedDate"`
	OwnerName    string `json:"Owner.Name" salesforce:"Owner.Name"`
}

// NoteRecord represents a Salesforce Note record.
type NoteRecord struct {
	ID          string `json:"Id" salesforce:"Id"`
	Title       string `json:"Title" salesforce:"Title"`
	Body        string `json:"Body" salesforce:"Body"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
	OwnerName   string `json:"Owner.Name" salesforce:"Owner.Name"`
}

var activityFields = []string{
	"Id", "Subject", "Description", "TaskSubtype", "ActivityDate", "CreatedDate", "Owner.Name",
}

var noteFields = []string{
	"Id", "Title", "Body", "CreatedDate", "Owner.Name",
}

// FetchAccountActivity queries Tasks attached to the given account created
// since the cutoff, newest first.
func FetchAccountActivity(ctx context.Context, c Client, accountID string, since time.Time) ([]ActivityRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Task WHERE WhatId = '%s' AND CreatedDate >= %s ORDER BY CreatedDate DESC",
		strings.Join(activityFields, ", "),
		escapeSoql(accountID),
		soqlDatetime(since),
	)

	var records []ActivityRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: fetch activity for account %s", accountID))
	}
	return records, nil
}

// FetchAccountNotes queries Notes attached to the given account created
// since the cutoff, newest first.
func FetchAccountNotes(ctx context.Context, c Client, accountID string, since time.Time) ([]NoteRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Note WHERE ParentId = '%s' AND CreatedDate >= %s ORDER BY CreatedDate DESC",
		strings.Join(noteFields, ", "),
		escapeSoql(accountID),
		soqlDatetime(since),
	)

	var records []NoteRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: fetch notes for account %s", accountID))
	}
	return records, nil
}

// soqlDatetime formats a time as a SOQL datetime literal (unquoted, UTC).
func soqlDatetime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
