package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrRateLimited marks a 429 that survived every retry.
var ErrRateLimited = errors.New("rate limited")

// statusError carries a non-200 API status through the retry loop.
type statusError struct {
	status int
	body   string
}

func (e statusError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.status, e.body)
}

// Client talks to the OpenAI HTTP API directly.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	enc        *tiktoken.Tiktoken
	logger     *log.Logger
	retryBase  time.Duration
}

// New builds a Client from config. The tokenizer for cfg.Encoding is loaded
// eagerly; when it cannot be loaded (offline deployments) token counting
// falls back to a bytes/4 estimate and a warning is logged once.
func New(cfg config.LLMConfig, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		retryBase:  time.Second,
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Printf("tokenizer %s unavailable, using byte estimate: %v", encoding, err)
	} else {
		c.enc = enc
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete runs one chat completion.
func (c *Client) Complete(ctx context.Context, model string, system string, turns []models.Turn) (string, error) {
	text, _, _, err := c.CompleteWithTokens(ctx, model, system, turns)
	return text, err
}

// CompleteWithTokens runs one chat completion and reports token usage.
// 429 and 5xx responses are retried with exponential backoff up to
// cfg.MaxRetries; a 429 that survives retries is wrapped in ErrRateLimited.
func (c *Client) CompleteWithTokens(ctx context.Context, model string, system string, turns []models.Turn) (string, int64, int64, error) {
	if model == "" {
		model = c.cfg.ChatModel
	}
	msgs := make([]chatMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Content})
	}

	var lastErr error
	backoff := c.retryBase
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", 0, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		text, in, out, err := c.chatOnce(ctx, model, msgs)
		if err == nil {
			return text, in, out, nil
		}
		lastErr = err
		var se statusError
		if !errors.As(err, &se) {
			break // transport error, not worth hammering
		}
		if se.status != http.StatusTooManyRequests && se.status < 500 {
			break
		}
		c.logger.Printf("openai %s attempt %d failed: %v", model, attempt+1, err)
	}
	var se statusError
	if errors.As(lastErr, &se) && se.status == http.StatusTooManyRequests {
		return "", 0, 0, fmt.Errorf("%v: %w", lastErr, ErrRateLimited)
	}
	return "", 0, 0, lastErr
}

func (c *Client) chatOnce(ctx context.Context, model string, msgs []chatMessage) (string, int64, int64, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, 0, statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices returned")
	}
	return out.Choices[0].Message.Content, out.Usage.PromptTokens, out.Usage.CompletionTokens, nil
}

// Embed embeds each input text with the configured embedding model.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(out.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// CountTokens measures text with the loaded tokenizer, falling back to a
// bytes/4 estimate when the tokenizer is unavailable.
func (c *Client) CountTokens(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// modelCost is dollars per 1K tokens.
type modelCost struct {
	in  float64
	out float64
}

var modelCosts = map[string]modelCost{
	"gpt-4o":                 {in: 0.0025, out: 0.01},
	"gpt-4o-mini":            {in: 0.00015, out: 0.0006},
	"gpt-4-turbo":            {in: 0.01, out: 0.03},
	"gpt-3.5-turbo":          {in: 0.0005, out: 0.0015},
	"text-embedding-3-small": {in: 0.00002},
	"text-embedding-3-large": {in: 0.00013},
}

// CalculateCost converts token usage into dollars; unknown models cost zero.
func (c *Client) CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	mc, ok := modelCosts[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1000.0*mc.in + float64(outputTokens)/1000.0*mc.out
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return defaultBaseURL
}
