package progression

import (
	"time"

	"github.com/sells-group/dealflow/internal/model"
)

// Summary is the full result of one progression run, returned to the CLI
// and HTTP callers.
type Summary struct {
	RunID      string              `json:"run_id,omitempty"`
	Params     model.RunParams     `json:"params"`
	Stats      model.RunStatistics `json:"statistics"`
	Outcomes   []model.DealOutcome `json:"outcomes,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Duration returns the wall-clock duration of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
