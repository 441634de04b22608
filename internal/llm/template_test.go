package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/domain"
)

func templateCase() *domain.Case {
	return &domain.Case{
		ID:            42,
		Subject:       "Use-of-force reports 2024",
		AgencyName:    "Springfield Police Department",
		Jurisdiction:  "IL",
		RequesterName: "Jordan Blake",
		ScopeItems: []domain.ScopeItem{
			{Item: "use-of-force reports", Status: domain.ScopePending},
			{Item: "body camera footage", Status: domain.ScopeExempt, Reason: "ongoing investigation"},
			{Item: "dispatch logs", Status: domain.ScopePending},
		},
	}
}

func TestTemplateGenerateDraft(t *testing.T) {
	p := NewTemplateProvider()
	ctx := context.Background()
	c := templateCase()

	t.Run("follow-up renders case fields", func(t *testing.T) {
		d, err := p.GenerateDraft(ctx, domain.ActionSendFollowup, c, DraftContext{})
		require.NoError(t, err)
		assert.Equal(t, "Following up: Use-of-force reports 2024", d.Subject)
		assert.Contains(t, d.BodyText, "Springfield Police Department")
		assert.Contains(t, d.BodyText, "Jordan Blake")
		assert.NotEmpty(t, d.BodyHTML)
	})

	t.Run("excluded items never rendered", func(t *testing.T) {
		d, err := p.GenerateDraft(ctx, domain.ActionReformulateRequest, c, DraftContext{
			ScopeItems:   c.ScopeItems,
			ExcludeItems: []string{"Body Camera Footage"},
		})
		require.NoError(t, err)
		assert.Contains(t, d.BodyText, "use-of-force reports")
		assert.Contains(t, d.BodyText, "dispatch logs")
		assert.NotContains(t, d.BodyText, "body camera footage")
	})

	t.Run("exempt items skipped without explicit exclusion", func(t *testing.T) {
		d, err := p.GenerateDraft(ctx, domain.ActionSendInitialRequest, c, DraftContext{
			ScopeItems: c.ScopeItems,
		})
		require.NoError(t, err)
		assert.NotContains(t, d.BodyText, "body camera footage")
	})

	t.Run("fee appears in fee actions", func(t *testing.T) {
		fee := 340.5
		d, err := p.GenerateDraft(ctx, domain.ActionAcceptFee, c, DraftContext{
			Analysis: &domain.ResponseAnalysis{ExtractedFee: &fee},
		})
		require.NoError(t, err)
		assert.Contains(t, d.BodyText, "$340.50")
	})

	t.Run("adjustment instruction carried", func(t *testing.T) {
		d, err := p.GenerateDraft(ctx, domain.ActionSendRebuttal, c, DraftContext{
			AdjustmentInstruction: "mention the statutory deadline",
		})
		require.NoError(t, err)
		assert.Contains(t, d.BodyText, "mention the statutory deadline")
	})

	t.Run("unknown action errors", func(t *testing.T) {
		_, err := p.GenerateDraft(ctx, domain.ActionNone, c, DraftContext{})
		assert.Error(t, err)
	})
}

func TestTemplateAnalyzeResponse(t *testing.T) {
	p := NewTemplateProvider()
	ctx := context.Background()
	c := templateCase()

	cases := []struct {
		name string
		body string
		want domain.Classification
	}{
		{"fee quote", "The fee for processing is $120.", domain.ClassFeeQuote},
		{"denial", "Your request is denied; the records are exempt.", domain.ClassDenial},
		{"records ready", "Your records are ready for collection.", domain.ClassRecordsReady},
		{"portal", "Please use our online portal to submit requests.", domain.ClassPortalRedirect},
		{"acknowledgment", "We have received your request.", domain.ClassAcknowledgment},
		{"unknown", "Lorem ipsum.", domain.ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := p.AnalyzeResponse(ctx, c, &domain.Message{ID: 1, BodyText: tc.body})
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Classification)
		})
	}
}
