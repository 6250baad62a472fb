package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/kotae/internal/config"
)

// OpenRouterBackend talks to an OpenAI-compatible chat completions API such as OpenRouter.
type OpenRouterBackend struct {
	baseURL    string
	apiKey     string
	referer    string
	title      string
	httpClient *http.Client
}

// NewOpenRouterBackend returns a backend for cfg. A nil client uses a client without a
// global timeout; every call is bounded by its context instead.
func NewOpenRouterBackend(cfg config.GenerationConfig, client *http.Client) *OpenRouterBackend {
	if client == nil {
		client = &http.Client{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	return &OpenRouterBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: client,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

type errorResponse struct {
	Error apiErrorBody `json:"error"`
}

func buildWireRequest(req *ChatRequest, stream bool) *chatRequest {
	out := &chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		out.MaxTokens = &n
	}
	return out
}

func (b *OpenRouterBackend) newRequest(ctx context.Context, req *ChatRequest, stream bool) (*http.Request, error) {
	body, err := json.Marshal(buildWireRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	if b.referer != "" {
		httpReq.Header.Set("HTTP-Referer", b.referer)
	}
	if b.title != "" {
		httpReq.Header.Set("X-Title", b.title)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Complete sends a non-streaming request and returns the first choice's content.
func (b *OpenRouterBackend) Complete(ctx context.Context, req *ChatRequest) (string, error) {
	httpReq, err := b.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", handleErrorResponse(resp.StatusCode, body)
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("malformed response: no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream sends a streaming request. The returned Stream owns the response body.
func (b *OpenRouterBackend) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	httpReq, err := b.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return newSSEStream(resp.Body), nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return &APIError{StatusCode: statusCode, Message: msg}
	}
	return &APIError{StatusCode: statusCode, Type: errResp.Error.Type, Message: errResp.Error.Message}
}

// sseStream reads "data:" frames of a server-sent event stream until "[DONE]".
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				// closed without [DONE]: the answer may be cut short
				s.done = true
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// event:, id:, retry: fields carry nothing we use
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", fmt.Errorf("malformed stream frame: %w", err)
		}
		if chunk.Error != nil {
			return "", &APIError{StatusCode: http.StatusOK, Type: chunk.Error.Type, Message: chunk.Error.Message}
		}
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
