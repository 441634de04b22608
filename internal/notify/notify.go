// Package notify delivers escalation alerts to the operators watching the
// queue. Alerts go out over plain SMTP; without an SMTP host configured the
// alerter logs what it would have sent, which is what local development wants.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

const subjectTemplate = `[{{ urgency | upcase }}] case {{ case_id }}: {{ reason }}`

const bodyTemplate = `Escalation on case {{ case_id }}
================================

Case:      {{ subject }}
Agency:    {{ agency_name }}
Status:    {{ status }}
Reason:    {{ reason }}
Urgency:   {{ urgency }}
{% if suggested_action != "" %}Suggested: {{ suggested_action }}
{% endif %}{% if detail != "" %}
{{ detail }}
{% endif %}
---
Automated alert from the case engine. Acknowledge it in the escalation queue.
`

// Alerter renders and sends escalation emails. Implements the executor's
// Notifier contract.
type Alerter struct {
	cfg     config.AlertsConfig
	subject *liquid.Template
	body    *liquid.Template
	send    func(addr, from string, to []string, msg []byte) error
}

// NewAlerter parses the alert templates once up front. Template errors here
// are programmer errors, so they panic at startup rather than surfacing on
// the first escalation.
func NewAlerter(cfg config.AlertsConfig) *Alerter {
	engine := liquid.NewEngine()
	subject, err := engine.ParseString(subjectTemplate)
	if err != nil {
		panic(fmt.Sprintf("parse alert subject template: %v", err))
	}
	body, err := engine.ParseString(bodyTemplate)
	if err != nil {
		panic(fmt.Sprintf("parse alert body template: %v", err))
	}
	return &Alerter{
		cfg:     cfg,
		subject: subject,
		body:    body,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// NotifyEscalation sends one alert email. Rendering failures are returned;
// the executor logs them without failing the run.
func (a *Alerter) NotifyEscalation(ctx context.Context, c *domain.Case, e *domain.Escalation) error {
	bindings := map[string]any{
		"case_id":          c.ID,
		"subject":          c.Subject,
		"agency_name":      c.AgencyName,
		"status":           string(c.Status),
		"reason":           e.Reason,
		"urgency":          string(e.Urgency),
		"suggested_action": e.SuggestedAction,
		"detail":           e.Detail,
	}

	subject, err := a.subject.Render(bindings)
	if err != nil {
		return fmt.Errorf("render alert subject: %w", err)
	}
	body, err := a.body.Render(bindings)
	if err != nil {
		return fmt.Errorf("render alert body: %w", err)
	}

	return a.sendMail(strings.TrimSpace(string(subject)), string(body))
}

func (a *Alerter) sendMail(subject, body string) error {
	if a.cfg.SMTPHost == "" || len(a.cfg.To) == 0 {
		logger.Info("alert (not sent, no smtp configured)", "subject", subject)
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		a.cfg.From, strings.Join(a.cfg.To, ","), subject, body)

	addr := fmt.Sprintf("%s:%d", a.cfg.SMTPHost, a.cfg.SMTPPort)
	if err := a.send(addr, a.cfg.From, a.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	logger.Info("alert sent", "subject", subject, "recipients", len(a.cfg.To))
	return nil
}
