package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/resilience"
)

// ClientOptions selects the AWS region/profile the shared Bedrock client
// loads its credentials from.
type ClientOptions struct {
	Region  string
	Profile string
}

// NewBedrockClient loads the AWS SDK's default credential chain (env vars,
// shared config/credentials files, or an EC2/ECS/Lambda role) and returns a
// bedrockruntime.Client. The profile-aware config.LoadDefaultConfig call
// is kept out of the provider/generator constructors themselves so both
// BedrockProvider and llm.BedrockGenerator can share one client.
func NewBedrockClient(ctx context.Context, opts ClientOptions) (*bedrockruntime.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedding: load AWS config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// titanEmbedRequest/titanEmbedResponse are Amazon Titan Embeddings G1's
// InvokeModel wire shapes (model family "amazon.titan-embed-text-*").
type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// BedrockConfig configures the Bedrock-backed embedding provider.
type BedrockConfig struct {
	ModelID    string
	Dimensions int
}

// DefaultBedrockConfig returns the Titan Embeddings G1 default: 1536
// dimensions.
func DefaultBedrockConfig() BedrockConfig {
	return BedrockConfig{ModelID: "amazon.titan-embed-text-v1", Dimensions: 1536}
}

// bedrockClient is the subset of *bedrockruntime.Client this package calls,
// narrowed for testability.
type bedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider embeds text via an Amazon Bedrock Titan embeddings model.
type BedrockProvider struct {
	client  bedrockClient
	cfg     BedrockConfig
	breaker *resilience.CircuitBreaker
	logger  observability.Logger
}

// NewBedrockProvider creates a BedrockProvider against an already-configured
// bedrockruntime.Client. Callers typically obtain one via NewBedrockClient.
func NewBedrockProvider(client *bedrockruntime.Client, cfg BedrockConfig, logger observability.Logger) *BedrockProvider {
	if cfg.ModelID == "" {
		cfg = DefaultBedrockConfig()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &BedrockProvider{
		client:  client,
		cfg:     cfg,
		breaker: resilience.New("embedding.bedrock", resilience.DefaultConfig(), logger, nil),
		logger:  logger,
	}
}

func (p *BedrockProvider) Dimension() int { return p.cfg.Dimensions }

// Embed invokes the configured Titan model and returns its embedding
// vector, guarded by a circuit breaker so a failing Bedrock endpoint does
// not pile up latency across every SemanticCache call.
func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	var out []float32
	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.cfg.ModelID),
			Body:        body,
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("embedding: invoke model: %w", err)
		}
		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return fmt.Errorf("embedding: parse response: %w", err)
		}
		out = parsed.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
