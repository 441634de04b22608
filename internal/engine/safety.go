package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/llm"
)

// Risk flags raised by the safety check. Critical flags force the human gate
// with pause reason SENSITIVE; warnings ride along on the proposal.
const (
	FlagRequestsExemptItem  = "REQUESTS_EXEMPT_ITEM"
	FlagContradictsFee      = "CONTRADICTS_FEE_ACCEPTANCE"
	FlagContainsPII         = "CONTAINS_PII"
	WarnRerequestsDelivered = "REREQUESTS_DELIVERED_ITEM"
	WarnAggressiveLanguage  = "AGGRESSIVE_LANGUAGE"
)

var criticalFlagSet = map[string]bool{
	FlagRequestsExemptItem: true,
	FlagContradictsFee:     true,
	FlagContainsPII:        true,
}

func criticalFlags(flags []string) []string {
	var out []string
	for _, f := range flags {
		if criticalFlagSet[f] {
			out = append(out, f)
		}
	}
	return out
}

// SafetyReport is the outcome of validating one draft.
type SafetyReport struct {
	RiskFlags []string
	Warnings  []string
}

// Critical reports whether any flag forbids auto-execution.
func (r SafetyReport) Critical() bool {
	return len(criticalFlags(r.RiskFlags)) > 0
}

var ssnPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

// Phrases that, near a scope item mention, mark it as an acknowledgement of
// what the agency already said rather than a fresh request.
var acknowledgementPhrases = []string{
	"thank you for",
	"we received",
	"i received",
	"you indicated",
	"you noted",
	"as you explained",
	"i understand that",
	"acknowledge",
}

// Fee language that contradicts an already-accepted fee.
var feeContradictionPhrases = []string{
	"waive the fee",
	"fee waiver",
	"reduce the fee",
	"lower the fee",
	"reconsider the fee",
	"decline the fee",
	"negotiate",
}

var aggressiveTerms = []string{
	"demand",
	"unacceptable",
	"lawsuit",
	"sue ",
	"legal action",
	"incompetent",
	"outrageous",
	"immediately or else",
}

// CheckDraft validates a draft against the case's constraints and scope.
// English-specific and deliberately conservative: false positives gate a
// send, false negatives only lose a warning.
func CheckDraft(action domain.ActionType, c *domain.Case, draft *llm.Draft) SafetyReport {
	var rep SafetyReport
	if draft == nil {
		return rep
	}
	body := strings.ToLower(draft.Subject + "\n" + draft.BodyText)

	for _, item := range c.ScopeItems {
		key := strings.ToLower(item.Item)
		if key == "" || !strings.Contains(body, key) {
			continue
		}
		switch item.Status {
		case domain.ScopeExempt:
			if !inAcknowledgingContext(body, key) {
				rep.RiskFlags = append(rep.RiskFlags, FlagRequestsExemptItem)
			}
		case domain.ScopeDelivered:
			if !inAcknowledgingContext(body, key) {
				rep.Warnings = append(rep.Warnings,
					fmt.Sprintf("%s: %q was already delivered", WarnRerequestsDelivered, item.Item))
			}
		}
	}

	if c.HasConstraint(domain.ConstraintFeeAccepted) {
		switch action {
		case domain.ActionNegotiateFee, domain.ActionDeclineFee, domain.ActionSendFeeWaiverRequest:
			rep.RiskFlags = append(rep.RiskFlags, FlagContradictsFee)
		default:
			for _, phrase := range feeContradictionPhrases {
				if strings.Contains(body, phrase) {
					rep.RiskFlags = append(rep.RiskFlags, FlagContradictsFee)
					break
				}
			}
		}
	}

	if action != domain.ActionSendRebuttal && action != domain.ActionSendAppeal {
		for _, term := range aggressiveTerms {
			if strings.Contains(body, term) {
				rep.Warnings = append(rep.Warnings,
					fmt.Sprintf("%s: %q", WarnAggressiveLanguage, strings.TrimSpace(term)))
				break
			}
		}
	}

	if ssnPattern.MatchString(draft.BodyText) || ssnPattern.MatchString(draft.Subject) {
		rep.RiskFlags = append(rep.RiskFlags, FlagContainsPII)
	}

	return rep
}

// inAcknowledgingContext reports whether every mention of the item sits near
// an acknowledgement phrase. A single bare mention counts as a re-request.
func inAcknowledgingContext(body, item string) bool {
	idx := 0
	for {
		pos := strings.Index(body[idx:], item)
		if pos < 0 {
			return true
		}
		pos += idx
		if !nearAcknowledgement(body, pos) {
			return false
		}
		idx = pos + len(item)
	}
}

func nearAcknowledgement(body string, pos int) bool {
	start := pos - 120
	if start < 0 {
		start = 0
	}
	window := body[start:pos]
	for _, phrase := range acknowledgementPhrases {
		if strings.Contains(window, phrase) {
			return true
		}
	}
	return false
}
