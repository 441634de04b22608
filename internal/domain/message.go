package domain

import "time"

// MessageDirection distinguishes agency mail from our own.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is one piece of correspondence on a case, in or out.
type Message struct {
	ID                int64            `json:"id" db:"id"`
	CaseID            int64            `json:"case_id" db:"case_id"`
	Direction         MessageDirection `json:"direction" db:"direction"`
	ProviderMessageID string           `json:"provider_message_id" db:"provider_message_id"`
	RFC2822ID         string           `json:"rfc2822_id" db:"rfc2822_id"`
	Subject           string           `json:"subject" db:"subject"`
	BodyText          string           `json:"body_text" db:"body_text"`
	BodyHTML          string           `json:"body_html" db:"body_html"`
	MessageType       string           `json:"message_type" db:"message_type"`
	FromEmail         string           `json:"from_email" db:"from_email"`
	ToEmail           string           `json:"to_email" db:"to_email"`
	SentAt            *time.Time       `json:"sent_at" db:"sent_at"`
	ReceivedAt        *time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt       *time.Time       `json:"processed_at" db:"processed_at"`
	ProcessedRunID    *int64           `json:"processed_run_id" db:"processed_run_id"`
	LastError         string           `json:"last_error" db:"last_error"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}

// Classification is the closed-set tag produced by analysis of an inbound
// message. Unknown tags from the LLM collapse to ClassUnknown.
type Classification string

const (
	ClassFeeQuote             Classification = "FEE_QUOTE"
	ClassDenial               Classification = "DENIAL"
	ClassAcknowledgment       Classification = "ACKNOWLEDGMENT"
	ClassRecordsReady         Classification = "RECORDS_READY"
	ClassClarificationRequest Classification = "CLARIFICATION_REQUEST"
	ClassPartialApproval      Classification = "PARTIAL_APPROVAL"
	ClassPartialDelivery      Classification = "PARTIAL_DELIVERY"
	ClassPortalRedirect       Classification = "PORTAL_REDIRECT"
	ClassWrongAgency          Classification = "WRONG_AGENCY"
	ClassHostile              Classification = "HOSTILE"
	ClassNoResponse           Classification = "NO_RESPONSE"
	ClassUnknown              Classification = "UNKNOWN"
)

// ValidClassification reports whether c is a member of the closed set.
func ValidClassification(c Classification) bool {
	switch c {
	case ClassFeeQuote, ClassDenial, ClassAcknowledgment, ClassRecordsReady,
		ClassClarificationRequest, ClassPartialApproval, ClassPartialDelivery,
		ClassPortalRedirect, ClassWrongAgency, ClassHostile, ClassNoResponse,
		ClassUnknown:
		return true
	}
	return false
}

// DenialSubtype qualifies a DENIAL classification.
type DenialSubtype string

const (
	DenialOverlyBroad          DenialSubtype = "overly_broad"
	DenialGlomarNCND           DenialSubtype = "glomar_ncnd"
	DenialOngoingInvestigation DenialSubtype = "ongoing_investigation"
	DenialJuvenileRecords      DenialSubtype = "juvenile_records"
	DenialSealedCourtOrder     DenialSubtype = "sealed_court_order"
	DenialExemptionCited       DenialSubtype = "exemption_cited"
	DenialNoRecords            DenialSubtype = "no_records"
)

// ResponseAnalysis is the structured classification of one inbound message.
// It is derived, never authoritative: the Case carries the merged
// constraints and scope.
type ResponseAnalysis struct {
	ID                int64          `json:"id" db:"id"`
	MessageID         int64          `json:"message_id" db:"message_id"`
	CaseID            int64          `json:"case_id" db:"case_id"`
	Classification    Classification `json:"classification" db:"classification"`
	DenialSubtype     DenialSubtype  `json:"denial_subtype" db:"denial_subtype"`
	Confidence        float64        `json:"confidence" db:"confidence"`
	Sentiment         string         `json:"sentiment" db:"sentiment"`
	ExtractedFee      *float64       `json:"extracted_fee_amount" db:"extracted_fee_amount"`
	ExtractedDeadline *time.Time     `json:"extracted_deadline" db:"extracted_deadline"`
	ConstraintsToAdd  []string       `json:"constraints_to_add" db:"constraints_to_add"`
	ScopeUpdates      []ScopeItem    `json:"scope_updates" db:"scope_updates"`
	KeyPoints         []string       `json:"key_points" db:"key_points"`
	RequiresAction    bool           `json:"requires_action" db:"requires_action"`
	SuggestedAction   string         `json:"suggested_action" db:"suggested_action"`
	RawResponse       string         `json:"raw_response,omitempty" db:"raw_response"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}
