package model

// StageRecommendation is the output contract of the classification oracle.
// Reasoning is audit-only free text and is never parsed for control flow.
type StageRecommendation struct {
	CurrentStage     Stage   `json:"current_stage"`
	RecommendedStage Stage   `json:"recommended_stage"`
	ShouldUpdate     bool    `json:"should_update"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}
