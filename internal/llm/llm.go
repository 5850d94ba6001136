// Package llm talks to hosted chat-completion models.
//
// A Client holds one long-lived service credential and no per-request state,
// so one value is shared by every goroutine. Calls are never retried here:
// a failed model call surfaces as one of the apperror kinds below and the
// caller decides what to persist.
//
//	apperror.ErrUpstream          5xx, transport failure, rejected service key
//	apperror.ErrQuotaExceeded     429 from the provider
//	apperror.ErrTimeout           context deadline or HTTP client timeout
//	apperror.ErrMalformedResponse no choices, empty content, undecodable envelope
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sakif/repo-analyser/internal/apperror"
)

// Operation selects the sampling limits applied to a request.
type Operation string

const (
	OpRepositoryAnalysis Operation = "repository-analysis"
	OpSnippetAnalysis    Operation = "snippet-analysis"
)

// Temperature ceilings and token budgets per operation.
const (
	MaxAnalysisTemperature = 0.3
	MaxSnippetTemperature  = 0.5
	AnalysisMaxTokens      = 4000
	SnippetMaxTokens       = 2000
)

type Request struct {
	Operation    Operation
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	// Temperature is clamped to the operation's ceiling. Negative selects the ceiling.
	Temperature float64
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

type Response struct {
	Content    string
	Model      string
	TokensUsed int
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Config struct {
	Provider string // groq | openai | anthropic
	APIKey   string
	Model    string
	BaseURL  string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New builds the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	switch cfg.Provider {
	case "groq", "":
		return newOpenAI("groq", cfg, defaultGroqURL, defaultGroqModel, httpClient), nil
	case "openai":
		return newOpenAI("openai", cfg, defaultOpenAIURL, defaultOpenAIModel, httpClient), nil
	case "anthropic":
		return newAnthropic(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// limits clamps temperature and fills the token budget for the operation.
// Zero is a real temperature (greedy decoding); only a negative value asks
// for the ceiling.
func limits(req Request) (temperature float64, maxTokens int) {
	ceiling, budget := MaxAnalysisTemperature, AnalysisMaxTokens
	if req.Operation == OpSnippetAnalysis {
		ceiling, budget = MaxSnippetTemperature, SnippetMaxTokens
	}
	temperature = req.Temperature
	if temperature < 0 || temperature > ceiling {
		temperature = ceiling
	}
	maxTokens = req.MaxTokens
	if maxTokens <= 0 || maxTokens > budget {
		maxTokens = budget
	}
	return temperature, maxTokens
}

// transportError classifies a failed http.Client.Do.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("llm/%s: %w", provider, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.Timeout(fmt.Sprintf("%s: model call timed out", provider))
	}
	return apperror.Upstream(fmt.Sprintf("%s: %v", provider, err))
}

// statusError classifies a non-200 provider response.
func statusError(provider string, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return apperror.QuotaExceeded(fmt.Sprintf("%s: quota exceeded", provider))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// The service key was rejected; to the caller this is an unavailable upstream.
		return apperror.Upstream(fmt.Sprintf("%s: service credential rejected (%d)", provider, status))
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperror.Timeout(fmt.Sprintf("%s: provider timed out (%d)", provider, status))
	default:
		return apperror.Upstream(fmt.Sprintf("%s: status %d: %s", provider, status, snippet))
	}
}
