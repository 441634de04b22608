// Package llm is the boundary to the language model. Providers are pure
// request/response: they classify inbound mail and draft outbound prose, and
// nothing else. Swappable implementations: AWS Bedrock for production, a
// deterministic template provider for DRY runs and tests.
package llm

import (
	"context"

	"github.com/openfoia/case-engine/internal/domain"
)

// Draft is generated correspondence for one action.
type Draft struct {
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html"`
}

// DraftContext carries everything the drafter may take into account.
// ExcludeItems are scope items the agency has exempted; the draft must not
// re-request them.
type DraftContext struct {
	AdjustmentInstruction string
	ExcludeItems          []string
	ScopeItems            []domain.ScopeItem
	Analysis              *domain.ResponseAnalysis
	TriggerMessage        *domain.Message
}

// Provider is the capability set the graph needs from a language model.
type Provider interface {
	// AnalyzeResponse classifies one inbound message against the closed
	// classification set. Non-conforming model output never propagates:
	// implementations collapse it to UNKNOWN with confidence 0.
	AnalyzeResponse(ctx context.Context, c *domain.Case, m *domain.Message) (*domain.ResponseAnalysis, error)

	// GenerateDraft produces subject/body for the chosen action.
	GenerateDraft(ctx context.Context, action domain.ActionType, c *domain.Case, dc DraftContext) (*Draft, error)
}
