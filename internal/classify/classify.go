// Package classify turns a deal's recent communications into a stage
// recommendation using Claude.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/pkg/anthropic"
)

// Input bundles everything the classifier sees for one deal.
type Input struct {
	Deal  model.Deal
	Comms model.RecentCommunications
}

// Classifier produces a stage recommendation for one deal.
type Classifier interface {
	Recommend(ctx context.Context, in Input) (*model.StageRecommendation, error)
}

const stageSystemPrompt = `You are a sales operations analyst. Given a deal's current pipeline stage and its recent communications, decide whether the deal has progressed to a later stage.

The pipeline stages in order are: Prospecting, Qualification, Proposal, Negotiation, Closed-Won, Closed-Lost.

Rules:
- Recommend a stage change only when the communications clearly show the deal has moved forward (e.g. a proposal was sent, terms are being negotiated, a contract was signed or the prospect walked away).
- Never recommend moving a deal backward.
- If the evidence is ambiguous, keep the current stage.

Respond with a valid JSON object and nothing else:
{"recommended_stage": "<stage>", "should_update": <true|false>, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

const stageUserPrompt = `Deal: %s
Account: %s
Current stage: %s
Amount: $%.2f

Recent communications (last %d):
%s`

// ClaudeClassifier implements Classifier with a single CreateMessage call
// per deal, wrapped in retry and a circuit breaker.
type ClaudeClassifier struct {
	client  anthropic.Client
	model   string
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClaudeClassifier creates a classifier using the given model ID. A nil
// breaker disables circuit breaking.
func NewClaudeClassifier(client anthropic.Client, modelID string, breaker *resilience.CircuitBreaker) *ClaudeClassifier {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "recommend_stage")
	return &ClaudeClassifier{
		client:  client,
		model:   modelID,
		retry:   retry,
		breaker: breaker,
	}
}

func (c *ClaudeClassifier) Recommend(ctx context.Context, in Input) (*model.StageRecommendation, error) {
	req := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(stageSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(in)},
		},
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if c.breaker == nil {
			return c.client.CreateMessage(ctx, req)
		}
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return c.client.CreateMessage(ctx, req)
		})
	}

	resp, err := resilience.DoVal(ctx, c.retry, call)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: recommend stage for deal %s", in.Deal.ID)
	}

	resp.Usage.LogCost(c.model, "recommend_stage")

	rec, err := parseRecommendation(resp.Text(), in.Deal.Stage)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: parse recommendation for deal %s", in.Deal.ID)
	}
	return rec, nil
}

func buildUserPrompt(in Input) string {
	var b strings.Builder
	for _, comm := range append(append([]model.Communication{}, in.Comms.Emails...), in.Comms.Notes...) {
		fmt.Fprintf(&b, "- [%s] %s", comm.Type, comm.Timestamp.Format("2006-01-02"))
		if comm.Actor != "" {
			fmt.Fprintf(&b, " (%s)", comm.Actor)
		}
		if comm.Subject != "" {
			fmt.Fprintf(&b, " %s:", comm.Subject)
		}
		fmt.Fprintf(&b, " %s\n", truncate(comm.Content, 500))
	}

	return fmt.Sprintf(stageUserPrompt,
		in.Deal.Name,
		in.Deal.AccountName,
		in.Deal.Stage,
		in.Deal.Amount,
		in.Comms.Total(),
		b.String(),
	)
}

// truncate cuts s to at most n bytes, backing up so a multi-byte rune is
// never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// parseRecommendation decodes the model's JSON reply and normalizes it
// against the known stage set.
func parseRecommendation(text string, current model.Stage) (*model.StageRecommendation, error) {
	var result struct {
		RecommendedStage string  `json:"recommended_stage"`
		ShouldUpdate     bool    `json:"should_update"`
		Confidence       float64 `json:"confidence"`
		Reasoning        string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &result); err != nil {
		return nil, eris.Wrap(err, "unmarshal recommendation")
	}

	rec := &model.StageRecommendation{
		CurrentStage:     current,
		RecommendedStage: model.Stage(result.RecommendedStage),
		ShouldUpdate:     result.ShouldUpdate,
		Confidence:       clamp01(result.Confidence),
		Reasoning:        result.Reasoning,
	}

	if !rec.RecommendedStage.Valid() {
		if rec.ShouldUpdate {
			return nil, eris.Errorf("unknown stage %q", result.RecommendedStage)
		}
		// A no-op recommendation with a garbled stage name still means
		// "keep the current stage".
		zap.L().Warn("classifier returned unknown stage on no-op recommendation",
			zap.String("recommended_stage", result.RecommendedStage),
		)
		rec.RecommendedStage = current
	}

	return rec, nil
}

// cleanJSON strips markdown code fences the model sometimes wraps around
// JSON replies.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
