package llm

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/osteele/liquid"

	"github.com/openfoia/case-engine/internal/domain"
)

// TemplateProvider generates deterministic drafts from liquid templates and
// never calls a model. It backs DRY runs and tests. AnalyzeResponse applies
// cheap keyword heuristics so the whole pipeline stays exercisable offline.
type TemplateProvider struct {
	engine *liquid.Engine
}

// NewTemplateProvider creates the offline provider.
func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{engine: liquid.NewEngine()}
}

var draftTemplates = map[domain.ActionType]struct {
	subject string
	body    string
}{
	domain.ActionSendInitialRequest: {
		subject: "Public Records Request: {{ subject }}",
		body: `Dear {{ agency }},

Pursuant to the applicable public records law, I request the following records:
{% for item in items %}- {{ item }}
{% endfor %}
Please provide the records in electronic form where available. If any portion
of this request is denied, please cite the specific exemption relied upon.

Sincerely,
{{ requester }}`,
	},
	domain.ActionSendFollowup: {
		subject: "Following up: {{ subject }}",
		body: `Dear {{ agency }},

I am writing to follow up on my public records request regarding {{ subject }}.
I have not yet received a response. Please advise on the status of this request
and the expected production date.

Sincerely,
{{ requester }}`,
	},
	domain.ActionSendRebuttal: {
		subject: "Re: {{ subject }} — response to denial",
		body: `Dear {{ agency }},

I respectfully disagree with the denial of my request regarding {{ subject }}.
The records sought are public records subject to disclosure, and the public
interest in their release is substantial. I ask that you reconsider.

Sincerely,
{{ requester }}`,
	},
	domain.ActionSendClarification: {
		subject: "Re: {{ subject }} — clarification",
		body: `Dear {{ agency }},

Thank you for your message. To clarify the scope of my request regarding
{{ subject }}: I am seeking the items listed in my original request{% if items.size > 0 %}, specifically:
{% for item in items %}- {{ item }}
{% endfor %}{% else %}.{% endif %}
Please let me know if further detail would help.

Sincerely,
{{ requester }}`,
	},
	domain.ActionSendAppeal: {
		subject: "Appeal of denial: {{ subject }}",
		body: `To the designated appeal authority,

I appeal the denial of my public records request regarding {{ subject }}.
The cited grounds do not justify withholding the requested records in full,
and any exempt material can be redacted rather than withheld.

Sincerely,
{{ requester }}`,
	},
	domain.ActionSendFeeWaiverRequest: {
		subject: "Re: {{ subject }} — fee waiver request",
		body: `Dear {{ agency }},

I request a waiver of the quoted fee for my records request regarding
{{ subject }}. Disclosure serves the public interest and is not sought for
commercial purposes.

Sincerely,
{{ requester }}`,
	},
	domain.ActionAcceptFee: {
		subject: "Re: {{ subject }} — fee accepted",
		body: `Dear {{ agency }},

Thank you for the fee estimate{% if fee %} of ${{ fee }}{% endif %} for my records request
regarding {{ subject }}. I accept the quoted fee. Please advise how to remit
payment so processing can proceed.

Sincerely,
{{ requester }}`,
	},
	domain.ActionNegotiateFee: {
		subject: "Re: {{ subject }} — fee discussion",
		body: `Dear {{ agency }},

Thank you for the fee estimate{% if fee %} of ${{ fee }}{% endif %}. The amount is higher than
expected; could you itemize the costs, or suggest how I might narrow the
request to reduce the fee?

Sincerely,
{{ requester }}`,
	},
	domain.ActionDeclineFee: {
		subject: "Re: {{ subject }} — declining quoted fee",
		body: `Dear {{ agency }},

Thank you for the estimate. I decline the quoted fee and withdraw the portion
of my request it covers. Please proceed with any items not subject to the fee.

Sincerely,
{{ requester }}`,
	},
	domain.ActionRespondPartialApprove: {
		subject: "Re: {{ subject }} — partial approval",
		body: `Dear {{ agency }},

Thank you for approving part of my request regarding {{ subject }}. I accept
the approved records and look forward to their production. I respectfully
contest the withheld portion and ask you to reconsider or cite the specific
exemption for each withheld item.

Sincerely,
{{ requester }}`,
	},
	domain.ActionReformulateRequest: {
		subject: "Re: {{ subject }} — narrowed request",
		body: `Dear {{ agency }},

To address the concern that my request was overly broad, I am narrowing it to
the following:
{% for item in items %}- {{ item }}
{% endfor %}
I trust this scope is workable. Please confirm receipt.

Sincerely,
{{ requester }}`,
	},
}

// GenerateDraft renders the template for the action. Items flagged as
// excluded never appear in the rendered list.
func (p *TemplateProvider) GenerateDraft(_ context.Context, action domain.ActionType, c *domain.Case, dc DraftContext) (*Draft, error) {
	tpl, ok := draftTemplates[action]
	if !ok {
		return nil, fmt.Errorf("no template for action %s", action)
	}

	excluded := make(map[string]bool, len(dc.ExcludeItems))
	for _, e := range dc.ExcludeItems {
		excluded[strings.ToLower(e)] = true
	}
	var items []string
	for _, s := range dc.ScopeItems {
		if excluded[strings.ToLower(s.Item)] || s.Status == domain.ScopeExempt {
			continue
		}
		items = append(items, s.Item)
	}

	bindings := map[string]any{
		"subject":   c.Subject,
		"agency":    c.AgencyName,
		"requester": requesterOrDefault(c),
		"items":     items,
	}
	if dc.Analysis != nil && dc.Analysis.ExtractedFee != nil {
		bindings["fee"] = fmt.Sprintf("%.2f", *dc.Analysis.ExtractedFee)
	}

	subject, err := p.engine.ParseAndRenderString(tpl.subject, bindings)
	if err != nil {
		return nil, fmt.Errorf("render subject for %s: %w", action, err)
	}
	body, err := p.engine.ParseAndRenderString(tpl.body, bindings)
	if err != nil {
		return nil, fmt.Errorf("render body for %s: %w", action, err)
	}
	if dc.AdjustmentInstruction != "" {
		body += "\n\n[Adjusted per reviewer note: " + dc.AdjustmentInstruction + "]"
	}

	return &Draft{
		Subject:  subject,
		BodyText: body,
		BodyHTML: textToHTML(body),
	}, nil
}

// AnalyzeResponse applies keyword heuristics in place of a model call.
func (p *TemplateProvider) AnalyzeResponse(_ context.Context, c *domain.Case, m *domain.Message) (*domain.ResponseAnalysis, error) {
	body := strings.ToLower(m.Subject + " " + m.BodyText)
	a := &domain.ResponseAnalysis{
		MessageID:      m.ID,
		CaseID:         c.ID,
		Classification: domain.ClassUnknown,
		Confidence:     0.5,
		Sentiment:      "neutral",
	}
	switch {
	case strings.Contains(body, "fee") || strings.Contains(body, "payment required"):
		a.Classification = domain.ClassFeeQuote
	case strings.Contains(body, "denied") || strings.Contains(body, "exempt"):
		a.Classification = domain.ClassDenial
		a.DenialSubtype = domain.DenialExemptionCited
	case strings.Contains(body, "records are ready") || strings.Contains(body, "available for pickup"):
		a.Classification = domain.ClassRecordsReady
	case strings.Contains(body, "clarify") || strings.Contains(body, "clarification"):
		a.Classification = domain.ClassClarificationRequest
	case strings.Contains(body, "portal") || strings.Contains(body, "submit online"):
		a.Classification = domain.ClassPortalRedirect
	case strings.Contains(body, "received your request") || strings.Contains(body, "acknowledg"):
		a.Classification = domain.ClassAcknowledgment
	}
	a.RequiresAction = a.Classification != domain.ClassAcknowledgment
	return a, nil
}

func requesterOrDefault(c *domain.Case) string {
	if c.RequesterName != "" {
		return c.RequesterName
	}
	return "Records Requester"
}

func textToHTML(body string) string {
	var b strings.Builder
	for _, para := range strings.Split(body, "\n\n") {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
