package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultModelBaseURL = "https://api.openai.com/v1"
	defaultModel        = "gpt-3.5-turbo"
	defaultModelTimeout = 60 * time.Second
	maxBodyBytes        = 1 << 20
)

const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec is the function declaration sent in the "tools" array.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	ToolChoice   string
}

// ToolCall is one invocation request parsed from a model response.
// Malformed is set when the arguments string was not a JSON object; the
// raw text is kept in RawArguments.
type ToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]any
	RawArguments string
	Malformed    bool
}

type OutputKind int

const (
	OutputText OutputKind = iota
	OutputToolCalls
)

// Output holds exactly one of Text or ToolCalls, selected by Kind.
type Output struct {
	Kind      OutputKind
	Text      string
	ToolCalls []ToolCall
}

func TextOutput(text string) Output {
	return Output{Kind: OutputText, Text: text}
}

func ToolCallsOutput(calls []ToolCall) Output {
	return Output{Kind: OutputToolCalls, ToolCalls: calls}
}

type ModelOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type ModelClient struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewModelClient(opts ModelOptions) (*ModelClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultModelBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ModelClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

func (c *ModelClient) Model() string {
	return c.model
}

type chatRequest struct {
	Model      string     `json:"model"`
	Messages   []Message  `json:"messages"`
	Tools      []ToolSpec `json:"tools,omitempty"`
	ToolChoice string     `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs one chat completion call. It never retries.
func (c *ModelClient) Complete(ctx context.Context, req CompletionRequest) (Output, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	payload := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = req.ToolChoice
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return Output{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return Output{}, transportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Output{}, transportError(err)
	}
	defer resp.Body.Close()

	body, truncated, err := readBody(resp.Body)
	if err != nil {
		return Output{}, transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, statusError(KindHTTPStatus, resp.StatusCode, body)
	}
	if truncated {
		return Output{}, decodeError(ErrBodyTooLarge)
	}
	return decodeChatResponse(body)
}

func decodeChatResponse(body []byte) (Output, error) {
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Output{}, decodeError(err)
	}
	if len(out.Choices) == 0 {
		return Output{}, decodeError(ErrNoChoices)
	}
	msg := out.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			call := ToolCall{
				ID:           tc.ID,
				Name:         strings.TrimSpace(tc.Function.Name),
				RawArguments: tc.Function.Arguments,
				Arguments:    map[string]any{},
			}
			raw := strings.TrimSpace(tc.Function.Arguments)
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &call.Arguments); err != nil || call.Arguments == nil {
					call.Arguments = nil
					call.Malformed = true
				}
			}
			calls = append(calls, call)
		}
		return ToolCallsOutput(calls), nil
	}
	text := ""
	if msg.Content != nil {
		text = strings.TrimSpace(*msg.Content)
	}
	return TextOutput(text), nil
}

// Ping checks the key against the models listing endpoint.
func (c *ModelClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return transportError(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	body, _, _ := readBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return statusError(KindHTTPStatus, resp.StatusCode, body)
	}
	return nil
}

// IsCancellation reports whether err came from the caller's context rather
// than the remote side.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
