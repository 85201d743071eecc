// Package gemini adapts the hosted generateContent endpoint to the eino
// chat model interface.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	replyPath      = "candidates.0.content.parts.0.text"
)

// ErrInvalidResponse is returned when the body is not JSON or carries no reply text.
var ErrInvalidResponse = errors.New("invalid response from API")

// StatusError reports a non-2xx answer from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API call failed with status: %d", e.StatusCode)
}

// Config configures a ChatModel.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// ChatModel sends every Generate call as a single generateContent request.
type ChatModel struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

var _ model.ChatModel = (*ChatModel)(nil)

// NewChatModel validates cfg and returns a ready ChatModel.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model is required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &ChatModel{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		endpoint: fmt.Sprintf("%s/models/%s:generateContent", base, url.PathEscape(cfg.Model)),
		client:   client,
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

// buildRequest folds system messages into systemInstruction and keeps the
// remaining turns in order. User turns carry no role so a single-turn
// request matches the minimal documented body.
func buildRequest(input []*schema.Message) (generateRequest, error) {
	var req generateRequest
	var system []part

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, part{Text: msg.Content})
		case schema.User:
			req.Contents = append(req.Contents, content{Parts: []part{{Text: msg.Content}}})
		case schema.Assistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			return generateRequest{}, fmt.Errorf("gemini: unsupported role %q", msg.Role)
		}
	}

	if len(req.Contents) == 0 {
		return generateRequest{}, errors.New("gemini: no user content")
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}
	return req, nil
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	req, err := buildRequest(input)
	if err != nil {
		return nil, err
	}

	payload, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"?key="+url.QueryEscape(m.apiKey), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	reply, err := extractReply(body)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(reply, nil), nil
}

func extractReply(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", ErrInvalidResponse
	}
	result := gjson.GetBytes(body, replyPath)
	if !result.Exists() || result.Type != gjson.String || result.String() == "" {
		return "", ErrInvalidResponse
	}
	return result.String(), nil
}

// Stream implements model.BaseChatModel. The endpoint is not streamed; the
// whole reply arrives as one chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools implements model.ChatModel. Tool calling is not supported.
func (m *ChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		return errors.New("gemini: tools are not supported")
	}
	return nil
}
