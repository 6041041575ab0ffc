package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/resilience"
)

// anthropicRequest/anthropicResponse are the Bedrock Messages API wire
// shapes for Anthropic Claude models (model family
// "anthropic.claude-3-*"), trimmed to what NL→SQL generation needs.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// systemPrompt instructs the model to answer with SQL only, matching the
// single-turn NL→SQL contract the semantic cache's generate path expects.
const systemPrompt = "You translate natural-language requests about an aviation database into a single SQL query. Respond with SQL only, no commentary, no markdown fences."

// BedrockConfig configures the Bedrock-backed generator.
type BedrockConfig struct {
	ModelID   string
	MaxTokens int
}

// DefaultBedrockConfig returns a Claude 3 Haiku default, the fastest model
// in the Claude 3 family and a reasonable default for a latency-sensitive
// cache-miss path.
func DefaultBedrockConfig() BedrockConfig {
	return BedrockConfig{ModelID: "anthropic.claude-3-haiku-20240307-v1:0", MaxTokens: 1024}
}

type bedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGenerator generates SQL via an Anthropic Claude model hosted on
// Amazon Bedrock.
type BedrockGenerator struct {
	client  bedrockClient
	cfg     BedrockConfig
	breaker *resilience.CircuitBreaker
}

// NewBedrockGenerator creates a BedrockGenerator against an
// already-configured bedrockruntime.Client.
func NewBedrockGenerator(client *bedrockruntime.Client, cfg BedrockConfig, logger observability.Logger) *BedrockGenerator {
	if cfg.ModelID == "" {
		cfg = DefaultBedrockConfig()
	}
	return &BedrockGenerator{
		client:  client,
		cfg:     cfg,
		breaker: resilience.New("llm.bedrock", resilience.DefaultConfig(), logger, nil),
	}
}

// Generate asks the configured model to translate prompt into SQL.
func (g *BedrockGenerator) Generate(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        g.cfg.MaxTokens,
		System:           systemPrompt,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	var parsed anthropicResponse
	err = g.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(g.cfg.ModelID),
			Body:        body,
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("llm: invoke model: %w", err)
		}
		return json.Unmarshal(resp.Body, &parsed)
	})
	if err != nil {
		return Result{}, err
	}

	var sql string
	if len(parsed.Content) > 0 {
		sql = parsed.Content[0].Text
	}

	return Result{
		SQL:            sql,
		GenerationTime: time.Since(start),
		PromptTokens:   parsed.Usage.InputTokens,
		OutputTokens:   parsed.Usage.OutputTokens,
		TotalTokens:    parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}, nil
}
