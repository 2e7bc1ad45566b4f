package embedding

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// ModelDefault is the embedding model used unless overridden.
	ModelDefault = string(openai.SmallEmbedding3)

	// maxBatchSize caps the number of inputs per API call.
	maxBatchSize = 256

	// requestsPerMinute bounds the embedding request rate.
	requestsPerMinute = 300
)

// OpenAIClient embeds text via the OpenAI embeddings API. Transient failures
// are retried with exponential backoff; only exhausted or non-retriable
// errors reach the caller, which then applies its degraded behavior.
type OpenAIClient struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var _ Client = (*OpenAIClient)(nil)

// Config holds embedding client settings.
type Config struct {
	// APIKey for the OpenAI API. Falls back to OPENAI_API_KEY.
	APIKey string
	// Model is the embedding model name. Empty selects ModelDefault.
	Model string
	// BaseURL overrides the API endpoint (for compatible providers).
	BaseURL string
}

// NewOpenAIClient creates an embedding client. Returns an error when no API
// key is available.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no OpenAI API key: set OPENAI_API_KEY or provide one in config")
	}

	model := cfg.Model
	if model == "" {
		model = ModelDefault
	}

	config := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(config),
		model:          openai.EmbeddingModel(model),
		limiter:        rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), 1),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}, nil
}

// Embed generates a vector embedding for a single text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in chunks of at most maxBatchSize per API call.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		offset := start

		var chunkVecs [][]float32
		err := retryWithBackoff(ctx, "embed batch", c.maxRetries, c.initialBackoff, c.maxBackoff, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter wait: %w", err)
			}
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: chunk,
				Model: c.model,
			})
			if err != nil {
				return fmt.Errorf("embedding request failed: %w", err)
			}
			if len(resp.Data) != len(chunk) {
				return fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(chunk))
			}
			// The API does not guarantee response order, so place by index.
			vecs := make([][]float32, len(chunk))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(chunk) {
					return fmt.Errorf("embedding response index %d out of range", d.Index)
				}
				vecs[d.Index] = d.Embedding
			}
			for i, v := range vecs {
				if v == nil {
					return fmt.Errorf("no embedding returned for input %d", offset+i)
				}
			}
			chunkVecs = vecs
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, chunkVecs...)

		log.Printf("[EMBED] Embedded %d texts with %s", len(chunk), c.model)
	}
	return out, nil
}
