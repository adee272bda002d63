// internal/llmclient/responses_client.go
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/config"
)

// TruncationAuto lets the endpoint drop the oldest items when the history
// outgrows the context window.
const TruncationAuto = "auto"

// Request is the body of a Responses API call.
type Request struct {
	Model      string         `json:"model"`
	Input      []schemas.Item `json:"input"`
	Tools      []schemas.Tool `json:"tools,omitempty"`
	Truncation string         `json:"truncation,omitempty"`
}

// Usage reports token accounting for a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the decoded, normalized result of a Responses API call.
type Response struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output []schemas.Item `json:"output"`
	Usage  Usage          `json:"usage"`
}

// ResponsesClient talks to an OpenAI compatible Responses endpoint.
type ResponsesClient struct {
	apiKey       string
	organization string
	endpoint     string
	maxAttempts  int
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewResponsesClient initializes the client.
func NewResponsesClient(cfg config.LLMConfig, logger *zap.Logger) (*ResponsesClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("an API key is required for the model gateway")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/responses"
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}

	return &ResponsesClient{
		apiKey:       cfg.APIKey,
		organization: cfg.Organization,
		endpoint:     endpoint,
		maxAttempts:  attempts,
		httpClient:   &http.Client{Timeout: cfg.APITimeout},
		limiter:      limiter,
		logger:       logger.Named("llm_client.responses"),
	}, nil
}

// CreateResponse posts req and returns the normalized response. Transient
// failures are retried immediately up to the configured attempt count; the
// final failure is returned as a *GatewayError.
func (c *ResponsesClient) CreateResponse(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(c.maxAttempts-1)),
		ctx,
	)

	var (
		result  *Response
		lastErr *GatewayError
		attempt int
	)

	operation := func() error {
		attempt++
		res, gerr := c.do(ctx, body)
		if gerr == nil {
			result = res
			return nil
		}
		gerr.Attempts = attempt
		lastErr = gerr
		if !gerr.Transient() {
			return backoff.Permanent(gerr)
		}
		c.logger.Warn("Transient model gateway failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status", gerr.StatusCode),
			zap.Error(gerr.Err))
		return gerr
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if lastErr != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, err
	}
	return result, nil
}

// do performs a single attempt.
func (c *ResponsesClient) do(ctx context.Context, body []byte) (*Response, *GatewayError) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &GatewayError{Err: fmt.Errorf("rate limiter: %w", err), permanent: true}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("failed to create HTTP request: %w", err), permanent: true}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("OpenAI-Beta", "responses=v1")
	if c.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", c.organization)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("failed to execute HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Model gateway returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("response", truncate(string(respBody), 512)))
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var payload Response
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 512),
			Err:        fmt.Errorf("failed to decode response payload: %w", err),
			permanent:  true,
		}
	}
	payload.Output = normalizeOutput(payload.Output)

	c.logger.Info("Model response received",
		zap.String("response_id", payload.ID),
		zap.Int("output_items", len(payload.Output)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("input_tokens", payload.Usage.InputTokens),
		zap.Int("output_tokens", payload.Usage.OutputTokens),
	)
	return &payload, nil
}

// normalizeOutput attributes role-less output messages to the assistant.
func normalizeOutput(items []schemas.Item) []schemas.Item {
	for i, it := range items {
		if it.Type == schemas.ItemMessage && it.Role == "" {
			items[i] = it.WithRole(schemas.RoleAssistant)
		}
	}
	return items
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
