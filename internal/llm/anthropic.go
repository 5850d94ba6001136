package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sakif/repo-analyser/internal/apperror"
)

const (
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-sonnet-4-5"
	anthropicAPIVersion   = "2023-06-01"
)

type anthropic struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func newAnthropic(cfg Config, client *http.Client) *anthropic {
	a := &anthropic{apiKey: cfg.APIKey, model: cfg.Model, baseURL: cfg.BaseURL, client: client}
	if a.baseURL == "" {
		a.baseURL = defaultAnthropicURL
	}
	if a.model == "" {
		a.model = defaultAnthropicModel
	}
	return a
}

func (a *anthropic) Name() string { return "anthropic" }

// Complete sends one Messages API call. The Messages API has no JSON mode;
// for JSONMode requests the assistant turn is prefilled with "{" and the brace
// is put back on the returned text.
func (a *anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	temperature, maxTokens := limits(req)
	body := anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
	}
	if req.JSONMode {
		body.Messages = append(body.Messages, anthropicMessage{Role: "assistant", Content: "{"})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llm/anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("llm/anthropic: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, transportError("anthropic", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, transportError("anthropic", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		// 529 is Anthropic's "overloaded"; statusError treats it as upstream.
		return Response{}, statusError("anthropic", httpResp.StatusCode, respBody)
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, apperror.MalformedResponse(fmt.Sprintf("anthropic: undecodable envelope: %v", err))
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, apperror.MalformedResponse("anthropic: no text content in response")
	}
	content := text.String()
	if req.JSONMode {
		content = "{" + content
	}

	return Response{
		Content:    content,
		Model:      result.Model,
		TokensUsed: result.Usage.InputTokens + result.Usage.OutputTokens,
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string             `json:"model"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
