package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/QThans/MinerU-runpod/internal/observability"
)

// Client talks to an OpenAI-compatible vision-language model server
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	retry      RetryConfig
	logger     *observability.Logger
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

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Delta        chatDelta `json:"delta"`
	Message      chatDelta `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type chatDelta struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient creates a model server client. serverURL is the API base, for
// example https://api.siliconflow.cn/v1.
func NewClient(serverURL, apiKey, model string, maxTokens int, httpClient *http.Client, retry RetryConfig, logger *observability.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		endpoint:   strings.TrimRight(serverURL, "/") + "/chat/completions",
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
		retry:      retry,
		logger:     logger,
	}
}

// Recognize sends one page image with prompt and returns the model's text.
func (c *Client) Recognize(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	body, err := json.Marshal(c.buildRequest(image, mimeType, prompt))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("model server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	// Some servers ignore stream=true and answer with a single JSON body.
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode model response: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", fmt.Errorf("model response has no choices")
		}
		return out.Choices[0].Message.Content, nil
	}

	text, finish, err := NewStreamParser(resp.Body).Collect()
	if err != nil {
		return "", fmt.Errorf("read model stream: %w", err)
	}
	if finish == "length" {
		c.logger.Warn().Int("max_tokens", c.maxTokens).Msg("Model output truncated at token limit")
	}
	return text, nil
}

func (c *Client) buildRequest(image []byte, mimeType, prompt string) *chatRequest {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return &chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				{Type: "text", Text: prompt},
			},
		}},
		Stream:    true,
		MaxTokens: c.maxTokens,
	}
}
