package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageIsTerminal(t *testing.T) {
	assert.True(t, StageClosedWon.IsTerminal())
	assert.True(t, StageClosedLost.IsTerminal())
	assert.False(t, StageProspecting.IsTerminal())
	assert.False(t, StageNegotiation.IsTerminal())
}

func TestStageValid(t *testing.T) {
	for _, s := range AllStages() {
		assert.True(t, s.Valid(), "stage %s should be valid", s)
	}
	assert.False(t, Stage("Discovery").Valid())
	assert.False(t, Stage("").Valid())
}

func TestStageRankOrdering(t *testing.T) {
	assert.Less(t, StageProspecting.Rank(), StageQualification.Rank())
	assert.Less(t, StageQualification.Rank(), StageProposal.Rank())
	assert.Less(t, StageProposal.Rank(), StageNegotiation.Rank())
	assert.Less(t, StageNegotiation.Rank(), StageClosedWon.Rank())
	assert.Equal(t, StageClosedWon.Rank(), StageClosedLost.Rank())
	assert.Zero(t, Stage("bogus").Rank())
}

func TestTerminalStages(t *testing.T) {
	terminal := TerminalStages()
	assert.Len(t, terminal, 2)
	for _, s := range terminal {
		assert.True(t, s.IsTerminal())
	}
}
