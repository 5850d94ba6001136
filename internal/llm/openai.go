package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sakif/repo-analyser/internal/apperror"
)

const (
	defaultGroqURL     = "https://api.groq.com/openai/v1/chat/completions"
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o-mini"
)

// openAI speaks the chat-completions protocol shared by OpenAI and Groq.
type openAI struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func newOpenAI(name string, cfg Config, defaultURL, defaultModel string, client *http.Client) *openAI {
	o := &openAI{name: name, apiKey: cfg.APIKey, model: cfg.Model, baseURL: cfg.BaseURL, client: client}
	if o.baseURL == "" {
		o.baseURL = defaultURL
	}
	if o.model == "" {
		o.model = defaultModel
	}
	return o
}

func (o *openAI) Name() string { return o.name }

func (o *openAI) Complete(ctx context.Context, req Request) (Response, error) {
	temperature, maxTokens := limits(req)
	body := openaiRequest{
		Model: o.model,
		Messages: []openaiMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &openaiResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llm/%s: marshaling request: %w", o.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("llm/%s: creating request: %w", o.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, transportError(o.name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, transportError(o.name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, statusError(o.name, httpResp.StatusCode, respBody)
	}

	var result openaiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, apperror.MalformedResponse(fmt.Sprintf("%s: undecodable envelope: %v", o.name, err))
	}
	if len(result.Choices) == 0 {
		return Response{}, apperror.MalformedResponse(o.name + ": no choices in response")
	}
	content := result.Choices[0].Message.Content
	if content == "" {
		return Response{}, apperror.MalformedResponse(o.name + ": empty content in response")
	}

	return Response{
		Content:    content,
		Model:      result.Model,
		TokensUsed: result.Usage.TotalTokens,
	}, nil
}

type openaiRequest struct {
	Model          string                `json:"model"`
	Messages       []openaiMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	TotalTokens int `json:"total_tokens"`
}
