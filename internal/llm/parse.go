package llm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

// analysisWire is the JSON schema the model is instructed to emit.
type analysisWire struct {
	Intent           string             `json:"intent"`
	DenialSubtype    string             `json:"denial_subtype"`
	Confidence       float64            `json:"confidence"`
	Sentiment        string             `json:"sentiment"`
	Fee              *float64           `json:"fee"`
	Deadline         string             `json:"deadline"`
	ConstraintsToAdd []string           `json:"constraints_to_add"`
	ScopeUpdates     []scopeUpdateWire  `json:"scope_updates"`
	KeyPoints        []string           `json:"key_points"`
	RequiresAction   bool               `json:"requires_action"`
	SuggestedAction  string             `json:"suggested_action"`
}

type scopeUpdateWire struct {
	Item   string `json:"item"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ParseAnalysis converts raw model output into a ResponseAnalysis. The model
// boundary is fail-closed: anything that does not parse, or carries a tag
// outside the closed set, becomes UNKNOWN with confidence 0 so the router
// escalates instead of acting on garbage.
func ParseAnalysis(raw string) *domain.ResponseAnalysis {
	a := &domain.ResponseAnalysis{
		Classification: domain.ClassUnknown,
		Confidence:     0,
		RawResponse:    raw,
	}

	body := extractJSON(raw)
	if body == "" {
		return a
	}

	var wire analysisWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return a
	}

	cls := domain.Classification(strings.ToUpper(strings.TrimSpace(wire.Intent)))
	if !domain.ValidClassification(cls) {
		return a
	}

	a.Classification = cls
	a.DenialSubtype = domain.DenialSubtype(strings.ToLower(strings.TrimSpace(wire.DenialSubtype)))
	a.Confidence = clamp01(wire.Confidence)
	a.Sentiment = strings.ToLower(strings.TrimSpace(wire.Sentiment))
	a.ExtractedFee = wire.Fee
	a.ConstraintsToAdd = normalizeCodes(wire.ConstraintsToAdd)
	a.KeyPoints = wire.KeyPoints
	a.RequiresAction = wire.RequiresAction
	a.SuggestedAction = strings.ToUpper(strings.TrimSpace(wire.SuggestedAction))

	if wire.Deadline != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, wire.Deadline); err == nil {
				a.ExtractedDeadline = &ts
				break
			}
		}
	}

	for _, su := range wire.ScopeUpdates {
		item := strings.TrimSpace(su.Item)
		if item == "" {
			continue
		}
		status := domain.ScopeItemStatus(strings.ToUpper(strings.TrimSpace(su.Status)))
		switch status {
		case domain.ScopePending, domain.ScopeExempt, domain.ScopeDenied,
			domain.ScopeDelivered, domain.ScopePartial:
		default:
			continue
		}
		a.ScopeUpdates = append(a.ScopeUpdates, domain.ScopeItem{
			Item: item, Status: status, Reason: su.Reason,
		})
	}

	return a
}

// draftWire is the JSON schema for generated drafts.
type draftWire struct {
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html"`
}

// ParseDraft extracts a Draft from raw model output. Returns false when the
// output carries no usable draft.
func ParseDraft(raw string) (*Draft, bool) {
	body := extractJSON(raw)
	if body == "" {
		return nil, false
	}
	var wire draftWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, false
	}
	if strings.TrimSpace(wire.BodyText) == "" {
		return nil, false
	}
	return &Draft{Subject: wire.Subject, BodyText: wire.BodyText, BodyHTML: wire.BodyHTML}, true
}

// extractJSON pulls the first balanced top-level JSON object out of model
// output, tolerating prose or fencing around it.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func normalizeCodes(codes []string) []string {
	var out []string
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
