package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/domain"
)

func TestParseAnalysis(t *testing.T) {
	t.Run("well-formed output", func(t *testing.T) {
		raw := `Here is my analysis:
{
  "intent": "FEE_QUOTE",
  "denial_subtype": "",
  "confidence": 0.92,
  "sentiment": "neutral",
  "fee": 340.50,
  "deadline": "2026-09-15",
  "constraints_to_add": ["fee_accepted "],
  "scope_updates": [{"item": "dispatch logs", "status": "pending", "reason": ""}],
  "key_points": ["fee of $340.50 quoted"],
  "requires_action": true,
  "suggested_action": "NEGOTIATE_FEE"
}`
		a := ParseAnalysis(raw)
		assert.Equal(t, domain.ClassFeeQuote, a.Classification)
		assert.InDelta(t, 0.92, a.Confidence, 0.001)
		require.NotNil(t, a.ExtractedFee)
		assert.InDelta(t, 340.50, *a.ExtractedFee, 0.001)
		require.NotNil(t, a.ExtractedDeadline)
		assert.Equal(t, "2026-09-15", a.ExtractedDeadline.Format("2006-01-02"))
		assert.Equal(t, []string{"FEE_ACCEPTED"}, a.ConstraintsToAdd)
		require.Len(t, a.ScopeUpdates, 1)
		assert.Equal(t, domain.ScopePending, a.ScopeUpdates[0].Status)
		assert.True(t, a.RequiresAction)
	})

	t.Run("unknown intent collapses to UNKNOWN", func(t *testing.T) {
		a := ParseAnalysis(`{"intent": "SOMETHING_NEW", "confidence": 0.99}`)
		assert.Equal(t, domain.ClassUnknown, a.Classification)
		assert.Zero(t, a.Confidence)
	})

	t.Run("prose without JSON collapses to UNKNOWN", func(t *testing.T) {
		a := ParseAnalysis("I could not classify this message, sorry.")
		assert.Equal(t, domain.ClassUnknown, a.Classification)
		assert.Zero(t, a.Confidence)
	})

	t.Run("malformed JSON collapses to UNKNOWN", func(t *testing.T) {
		a := ParseAnalysis(`{"intent": "DENIAL", "confidence": `)
		assert.Equal(t, domain.ClassUnknown, a.Classification)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		a := ParseAnalysis(`{"intent": "DENIAL", "denial_subtype": "OVERLY_BROAD", "confidence": 1.7}`)
		assert.Equal(t, domain.ClassDenial, a.Classification)
		assert.Equal(t, 1.0, a.Confidence)
		assert.Equal(t, domain.DenialOverlyBroad, a.DenialSubtype)
	})

	t.Run("invalid scope status dropped", func(t *testing.T) {
		a := ParseAnalysis(`{"intent": "PARTIAL_APPROVAL", "confidence": 0.8,
			"scope_updates": [{"item": "bwc footage", "status": "VANISHED"},
			                  {"item": "emails", "status": "EXEMPT", "reason": "privacy"}]}`)
		require.Len(t, a.ScopeUpdates, 1)
		assert.Equal(t, "emails", a.ScopeUpdates[0].Item)
		assert.Equal(t, domain.ScopeExempt, a.ScopeUpdates[0].Status)
	})
}

func TestParseDraft(t *testing.T) {
	t.Run("fenced output", func(t *testing.T) {
		raw := "```json\n{\"subject\": \"Re: request\", \"body_text\": \"Dear agency,\", \"body_html\": \"<p>Dear agency,</p>\"}\n```"
		d, ok := ParseDraft(raw)
		require.True(t, ok)
		assert.Equal(t, "Re: request", d.Subject)
		assert.Equal(t, "Dear agency,", d.BodyText)
	})

	t.Run("empty body rejected", func(t *testing.T) {
		_, ok := ParseDraft(`{"subject": "x", "body_text": "  "}`)
		assert.False(t, ok)
	})

	t.Run("no JSON rejected", func(t *testing.T) {
		_, ok := ParseDraft("no draft available")
		assert.False(t, ok)
	})
}

func TestExtractJSON(t *testing.T) {
	t.Run("braces inside strings", func(t *testing.T) {
		raw := `{"a": "value with } brace", "b": 2} trailing`
		assert.Equal(t, `{"a": "value with } brace", "b": 2}`, extractJSON(raw))
	})

	t.Run("nested objects", func(t *testing.T) {
		raw := `prefix {"a": {"b": {"c": 1}}} suffix`
		assert.Equal(t, `{"a": {"b": {"c": 1}}}`, extractJSON(raw))
	})

	t.Run("unbalanced returns empty", func(t *testing.T) {
		assert.Empty(t, extractJSON(`{"a": 1`))
	})
}
