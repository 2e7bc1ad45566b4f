package ai

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/pressgraph/evc/internal/types"
)

// Arbitration model selection.
//
// Cluster review and group validation are short structured-output tasks, so
// the default model favors cost over depth. Override per deployment:
//   - EVC_ARBITER_MODEL: model for all arbitration calls
const (
	// ModelDefault is the standard model for arbitration calls
	ModelDefault = "claude-sonnet-4-5-20250929"
)

// GetArbiterModel returns the arbitration model, checking EVC_ARBITER_MODEL first
func GetArbiterModel() string {
	if model := os.Getenv("EVC_ARBITER_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Arbiter is the decision-making surface the pipeline stages actually
// consume. Both methods degrade at the call site, never here: an error (or a
// response failing schema validation) means the caller applies its documented
// fallback: accept the cluster unsplit, leave the group unchanged.
type Arbiter interface {
	// ReviewCluster decides whether a same-day cluster describes one real
	// event or several, and names each resulting group.
	ReviewCluster(ctx context.Context, cluster *types.EventCluster) (*ClusterDecision, error)

	// ReviewEventGroup decides whether a master/child group is one real
	// event (confirm, possibly rename) or an over-merge (split).
	ReviewEventGroup(ctx context.Context, master *types.CanonicalEvent, children []*types.CanonicalEvent) (*GroupDecision, error)
}

// Supervisor implements Arbiter against the Anthropic Messages API.
//
// Responsibilities are split across files:
//   - supervisor.go: struct, constructor, CallAI (this file)
//   - retry.go: bounded retry, backoff, circuit breaker
//   - json_parser.go: resilient parsing of model JSON output
//   - arbitration.go: prompts, response schemas, schema validation
type Supervisor struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
}

// Compile-time check that Supervisor implements Arbiter
var _ Arbiter = (*Supervisor)(nil)

// Config holds supervisor configuration
type Config struct {
	APIKey string      // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model  string      // Model to use (default: GetArbiterModel())
	Retry  RetryConfig // Retry behavior (default: DefaultRetryConfig())
}

// NewSupervisor creates a supervisor for arbitration calls
func NewSupervisor(cfg Config) (*Supervisor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key provided (set ANTHROPIC_API_KEY)")
	}

	model := cfg.Model
	if model == "" {
		model = GetArbiterModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	s := &Supervisor{
		client: &client,
		model:  model,
		retry:  retry,
	}
	if retry.CircuitBreakerEnabled {
		s.circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		s.concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	return s, nil
}

// CallAI makes a raw arbitration API call with retry and the circuit breaker
// applied, returning the concatenated text content of the response.
func (s *Supervisor) CallAI(ctx context.Context, prompt, operation string, maxTokens int) (string, error) {
	if maxTokens == 0 {
		maxTokens = 4096
	}

	startTime := time.Now()
	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(s.model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var responseText string
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	log.Printf("[ARBITER] %s call: input=%d tokens, output=%d tokens, duration=%v",
		operation, response.Usage.InputTokens, response.Usage.OutputTokens, time.Since(startTime))

	return responseText, nil
}
