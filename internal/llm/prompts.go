package llm

import (
	"fmt"
	"strings"

	"github.com/openfoia/case-engine/internal/domain"
)

const analysisSystemPrompt = `You analyze replies from government agencies to public-records requests.
Respond with a single JSON object and nothing else, matching exactly:
{
  "intent": one of FEE_QUOTE, DENIAL, ACKNOWLEDGMENT, RECORDS_READY, CLARIFICATION_REQUEST, PARTIAL_APPROVAL, PARTIAL_DELIVERY, PORTAL_REDIRECT, WRONG_AGENCY, HOSTILE, UNKNOWN,
  "denial_subtype": for DENIAL only, one of overly_broad, glomar_ncnd, ongoing_investigation, juvenile_records, sealed_court_order, exemption_cited, no_records,
  "confidence": number 0..1,
  "sentiment": one of positive, neutral, negative, hostile,
  "fee": dollar amount as a number, or null,
  "deadline": ISO date the agency committed to, or "",
  "constraints_to_add": array of UPPER_SNAKE constraint codes the reply establishes (e.g. BWC_EXEMPT, FEE_ACCEPTED, ID_REQUIRED, CITIZENSHIP_REQUIRED),
  "scope_updates": array of {"item": string, "status": PENDING|EXEMPT|DENIED|DELIVERED|PARTIAL, "reason": string},
  "key_points": array of short strings quoting or paraphrasing the decisive statements,
  "requires_action": boolean,
  "suggested_action": short UPPER_SNAKE action name or ""
}`

const draftSystemPrompt = `You draft professional correspondence for public-records requests.
Tone: courteous, firm, concise. Cite the request context you are given; never
invent facts, fee amounts, or statutes. Never request items listed as excluded.
Respond with a single JSON object and nothing else:
{"subject": string, "body_text": plain text body, "body_html": simple HTML body}`

func buildAnalysisPrompt(c *domain.Case, m *domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\nAgency: %s\nJurisdiction: %s\n", c.Subject, c.AgencyName, c.Jurisdiction)
	if len(c.ScopeItems) > 0 {
		b.WriteString("Requested items:\n")
		for _, s := range c.ScopeItems {
			fmt.Fprintf(&b, "- %s [%s]\n", s.Item, s.Status)
		}
	}
	if len(c.Constraints) > 0 {
		fmt.Fprintf(&b, "Known constraints: %s\n", strings.Join(c.Constraints, ", "))
	}
	fmt.Fprintf(&b, "\nAgency reply (subject: %s):\n%s\n", m.Subject, m.BodyText)
	b.WriteString("\nClassify this reply.")
	return b.String()
}

func buildDraftPrompt(action domain.ActionType, c *domain.Case, dc DraftContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s for this records request.\n\n", actionInstruction(action))
	fmt.Fprintf(&b, "Request: %s\nAgency: %s\nJurisdiction: %s\nRequester: %s\n",
		c.Subject, c.AgencyName, c.Jurisdiction, c.RequesterName)

	if len(dc.ScopeItems) > 0 {
		b.WriteString("\nRequested items and their current disposition:\n")
		for _, s := range dc.ScopeItems {
			fmt.Fprintf(&b, "- %s [%s]", s.Item, s.Status)
			if s.Reason != "" {
				fmt.Fprintf(&b, " (%s)", s.Reason)
			}
			b.WriteString("\n")
		}
	}
	if len(dc.ExcludeItems) > 0 {
		fmt.Fprintf(&b, "\nDo NOT request these items (the agency has exempted them): %s\n",
			strings.Join(dc.ExcludeItems, "; "))
	}
	if dc.Analysis != nil {
		fmt.Fprintf(&b, "\nThe agency's last reply was classified %s", dc.Analysis.Classification)
		if dc.Analysis.ExtractedFee != nil {
			fmt.Fprintf(&b, " with a quoted fee of $%.2f", *dc.Analysis.ExtractedFee)
		}
		b.WriteString(".\n")
		if len(dc.Analysis.KeyPoints) > 0 {
			b.WriteString("Key points from that reply:\n")
			for _, kp := range dc.Analysis.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", kp)
			}
		}
	}
	if dc.TriggerMessage != nil && dc.TriggerMessage.BodyText != "" {
		fmt.Fprintf(&b, "\nThe reply being answered:\n%s\n", dc.TriggerMessage.BodyText)
	}
	if dc.AdjustmentInstruction != "" {
		fmt.Fprintf(&b, "\nReviewer adjustment — revise the draft accordingly: %s\n", dc.AdjustmentInstruction)
	}
	return b.String()
}

func actionInstruction(action domain.ActionType) string {
	switch action {
	case domain.ActionSendInitialRequest:
		return "initial public-records request letter"
	case domain.ActionSendFollowup:
		return "polite follow-up on an unanswered request"
	case domain.ActionSendRebuttal:
		return "rebuttal challenging the agency's denial, citing the public interest"
	case domain.ActionSendClarification:
		return "reply answering the agency's clarification questions"
	case domain.ActionSendAppeal:
		return "formal appeal of the denial to the designated appeal authority"
	case domain.ActionSendFeeWaiverRequest:
		return "fee waiver request citing public-interest grounds"
	case domain.ActionAcceptFee:
		return "short reply accepting the quoted fee and asking how to remit payment"
	case domain.ActionNegotiateFee:
		return "reply asking to narrow the request or itemize costs to reduce the quoted fee"
	case domain.ActionDeclineFee:
		return "reply declining the quoted fee and withdrawing the associated items"
	case domain.ActionRespondPartialApprove:
		return "reply accepting the approved portion and contesting the withheld portion"
	case domain.ActionReformulateRequest:
		return "narrowed reformulation of the request addressing the overly-broad objection"
	default:
		return "message"
	}
}
