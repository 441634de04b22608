package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// BedrockProvider talks to Anthropic models through AWS Bedrock. All data
// stays inside AWS.
type BedrockProvider struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// BedrockMessage is one turn in the anthropic messages payload.
type BedrockMessage struct {
	Role    string                `json:"role"`
	Content []BedrockContentBlock `json:"content"`
}

// BedrockContentBlock is one content block in a message.
type BedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BedrockRequest is the InvokeModel body for anthropic models.
type BedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []BedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

// BedrockResponse is the InvokeModel response body.
type BedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockProvider initializes the Bedrock client from the default AWS
// credential chain.
func NewBedrockProvider(ctx context.Context, cfg config.BedrockConfig) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	p := &BedrockProvider{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	logger.Info("bedrock provider initialized", "model", cfg.ModelID, "region", cfg.Region)
	return p, nil
}

// AnalyzeResponse classifies one inbound message. Model output that does not
// conform to the schema collapses to UNKNOWN/0 via ParseAnalysis.
func (p *BedrockProvider) AnalyzeResponse(ctx context.Context, c *domain.Case, m *domain.Message) (*domain.ResponseAnalysis, error) {
	raw, err := p.invoke(ctx, analysisSystemPrompt, buildAnalysisPrompt(c, m))
	if err != nil {
		return nil, err
	}
	a := ParseAnalysis(raw)
	a.MessageID = m.ID
	a.CaseID = c.ID
	if a.Classification == domain.ClassUnknown {
		logger.Warn("analysis did not conform to schema", "case_id", c.ID, "message_id", m.ID)
	}
	return a, nil
}

// GenerateDraft produces correspondence for the chosen action.
func (p *BedrockProvider) GenerateDraft(ctx context.Context, action domain.ActionType, c *domain.Case, dc DraftContext) (*Draft, error) {
	raw, err := p.invoke(ctx, draftSystemPrompt, buildDraftPrompt(action, c, dc))
	if err != nil {
		return nil, err
	}
	draft, ok := ParseDraft(raw)
	if !ok {
		return nil, fmt.Errorf("draft output for %s did not conform to schema", action)
	}
	return draft, nil
}

func (p *BedrockProvider) invoke(ctx context.Context, system, user string) (string, error) {
	request := BedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        p.maxTokens,
		System:           system,
		Messages: []BedrockMessage{
			{Role: "user", Content: []BedrockContentBlock{{Type: "text", Text: user}}},
		},
		Temperature: p.temperature,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal bedrock request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke: %w", err)
	}

	var response BedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("parse bedrock response: %w", err)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	logger.Debug("bedrock call complete",
		"model", p.modelID,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens)

	return text.String(), nil
}
