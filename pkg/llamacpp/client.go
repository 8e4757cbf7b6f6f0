// Package llamacpp talks to the OpenAI-compatible chat endpoint of a
// llama.cpp server.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	completionsPath = "/v1/chat/completions"

	// DefaultTimeout applies when the caller's context has no deadline
	DefaultTimeout = 300 * time.Second

	// maxErrorBody caps the server message quoted in errors
	maxErrorBody = 512
)

// Sampling holds the generation parameters sent with each request
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Client is a llama.cpp vision backend
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Chat is used for free-text answers, JSON for box suggestions
	Chat Sampling
	JSON Sampling
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			// string, or an array of content parts on some server builds
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates a client for serverURL, http://localhost:8080 when empty
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL: %s", serverURL)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		Chat:       Sampling{Temperature: 0.7, TopP: 0.8, MaxTokens: 512},
		JSON:       Sampling{Temperature: 0.1, TopP: 0.8, MaxTokens: 256},
	}, nil
}

// Query asks for a free-text reply about the image
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.complete(ctx, c.newRequest(model, prompt, imgB64, c.Chat, nil))
}

// QueryJSON asks for a reply constrained to one JSON object
func (c *Client) QueryJSON(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.complete(ctx, c.newRequest(model, prompt, imgB64, c.JSON, &responseFormat{Type: "json_object"}))
}

func (c *Client) newRequest(model, prompt, imgB64 string, s Sampling, format *responseFormat) chatRequest {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}
	return chatRequest{
		Model:          model,
		Messages:       []chatMessage{{Role: "user", Content: parts}},
		Temperature:    s.Temperature,
		TopP:           s.TopP,
		MaxTokens:      s.MaxTokens,
		ResponseFormat: format,
	}
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	body, err := c.post(ctx, completionsPath, req)
	if err != nil {
		return "", fmt.Errorf("llama.cpp request failed: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse llama.cpp response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in llama.cpp response")
	}

	text := contentText(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from llama.cpp server")
	}
	return text, nil
}

// contentText returns a string content, or the first text part of an array
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	for _, p := range parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
