// Package model defines the core domain types for deal stage progression.
package model

import "time"

// Stage is a named position in the ordered deal pipeline.
type Stage string

const (
	StageProspecting   Stage = "Prospecting"
	StageQualification Stage = "Qualification"
	StageProposal      Stage = "Proposal"
	StageNegotiation   Stage = "Negotiation"
	StageClosedWon     Stage = "Closed-Won"
	StageClosedLost    Stage = "Closed-Lost"
)

// stageRank orders stages for logging and sanity checks. Both terminal
// stages share the highest rank.
var stageRank = map[Stage]int{
	StageProspecting:   10,
	StageQualification: 20,
	StageProposal:      30,
	StageNegotiation:   40,
	StageClosedWon:     50,
	StageClosedLost:    50,
}

// AllStages returns every pipeline stage in order.
func AllStages() []Stage {
	return []Stage{
		StageProspecting,
		StageQualification,
		StageProposal,
		StageNegotiation,
		StageClosedWon,
		StageClosedLost,
	}
}

// TerminalStages returns the stages after which a deal is never analyzed.
func TerminalStages() []Stage {
	return []Stage{StageClosedWon, StageClosedLost}
}

// IsTerminal reports whether the stage excludes a deal from further analysis.
func (s Stage) IsTerminal() bool {
	return s == StageClosedWon || s == StageClosedLost
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the stage's position in the pipeline order, or 0 for an
// unknown stage.
func (s Stage) Rank() int {
	return stageRank[s]
}

// Deal is a sales opportunity tracked through the stage pipeline, enriched
// with owner and account identity for downstream lookups. Only the stage
// applier mutates Stage, UpdatedAt, and LastContactDate.
type Deal struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Stage             Stage      `json:"stage"`
	Amount            float64    `json:"amount"`
	OwnerID           string     `json:"owner_id"`
	OwnerName         string     `json:"owner_name"`
	AccountID         string     `json:"account_id"`
	AccountName       string     `json:"account_name"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	LastContactDate   *time.Time `json:"last_contact_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
