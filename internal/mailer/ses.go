package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// SESSender delivers email through AWS SES using the SDK v2.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
}

// NewSESSender creates an SES sender. With no credentials the client stays
// nil and Send fails loudly, which the worker turns into retries and
// ultimately a dead-letter.
func NewSESSender(cfg config.SESConfig) *SESSender {
	s := &SESSender{fromEmail: cfg.FromEmail, fromName: cfg.FromName}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
		if err != nil {
			logger.Warn("ses client init failed", "error", err.Error())
		} else {
			s.client = sesv2.NewFromConfig(awsCfg)
		}
	}

	return s
}

// Send delivers a single email through SES, carrying the threading headers
// that let the agency's reply find its way back to the case.
func (s *SESSender) Send(ctx context.Context, job *domain.EmailJob, rfc2822ID string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("ses client not initialized, check credentials")
	}

	from := job.FromEmail
	if from == "" {
		from = s.fromEmail
	}
	fromName := job.FromName
	if fromName == "" {
		fromName = s.fromName
	}

	headers := []types.MessageHeader{
		{Name: aws.String("Message-ID"), Value: aws.String(rfc2822ID)},
	}
	if job.InReplyTo != "" {
		headers = append(headers, types.MessageHeader{Name: aws.String("In-Reply-To"), Value: aws.String(job.InReplyTo)})
	}
	if job.ReferencesHeader != "" {
		headers = append(headers, types.MessageHeader{Name: aws.String("References"), Value: aws.String(job.ReferencesHeader)})
	}

	body := &types.Body{}
	if job.BodyHTML != "" {
		body.Html = &types.Content{Data: aws.String(job.BodyHTML), Charset: aws.String("UTF-8")}
	}
	if job.BodyText != "" {
		body.Text = &types.Content{Data: aws.String(job.BodyText), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", fromName, from)),
		Destination:      &types.Destination{ToAddresses: []string{job.ToEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(job.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
				Headers: headers,
			},
		},
	}
	if job.ReplyTo != "" {
		input.ReplyToAddresses = []string{job.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Info("ses accepted message",
		"to", logger.RedactEmail(job.ToEmail), "provider_message_id", messageID)
	return messageID, nil
}
