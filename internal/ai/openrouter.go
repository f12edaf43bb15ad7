package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ai-chatbot/internal/model"
)

const (
	requestTimeout = 30 * time.Second

	maxTokens   = 2000
	temperature = 0.7

	systemPrompt = "You are a helpful AI assistant. Provide informative, accurate, and engaging responses. Be concise but thorough in your answers."
	titlePrompt  = "Generate a concise, descriptive title (max 5 words) for a chat conversation based on the user's first message. Only return the title, nothing else."

	// Provider failures are never surfaced as errors to the end user;
	// each class degrades to one of these replies instead.
	replyNotConfigured    = "I apologize, but I'm not properly configured to respond right now. Please contact the administrator."
	replyTimeout          = "I apologize, but I'm taking too long to respond. Please try again."
	replyConnectionFailed = "I'm having trouble connecting right now. Please try again in a moment."
	replyBadFormat        = "I received an unexpected response format. Please try again."
	replyUnexpected       = "I encountered an unexpected error. Please try again."
	replyEmptyStream      = "I couldn't generate a response. Please try again."

	defaultTitle = "New Chat"
)

var (
	errNotConfigured = errors.New("openrouter api key is not configured")
	errTimeout       = errors.New("openrouter request timed out")
	errTransport     = errors.New("openrouter request failed")
	errBadFormat     = errors.New("unexpected openrouter response format")
	errEmptyStream   = errors.New("openrouter stream produced no content")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	SiteURL string
}

// TitleOutcome reports whether the title came from the provider or is the
// default used when title generation failed for any reason.
type TitleOutcome struct {
	Title        string
	FromProvider bool
}

// Client talks to an OpenRouter-compatible completions API. It is
// constructed once and injected; it holds no state beyond configuration.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// FormatMessages converts stored chat messages to the provider vocabulary,
// prepending the fixed system instruction. Order is preserved; nothing is
// deduplicated or truncated.
func FormatMessages(history []model.Message) []ChatMessage {
	formatted := make([]ChatMessage, 0, len(history)+1)
	formatted = append(formatted, ChatMessage{Role: "system", Content: systemPrompt})
	for _, msg := range history {
		role := "assistant"
		if msg.SenderType == model.SenderUser {
			role = "user"
		}
		formatted = append(formatted, ChatMessage{Role: role, Content: msg.Content})
	}
	return formatted
}

// GenerateResponse produces a reply for the given conversation. It never
// returns an error for provider failures: every failure class degrades to
// a fixed apologetic reply, which the caller persists like any other bot
// message.
func (c *Client) GenerateResponse(ctx context.Context, messages []ChatMessage, stream bool) string {
	text, err := c.complete(ctx, messages, stream)
	if err == nil {
		return text
	}

	c.logger.Error("openrouter request failed", zap.Bool("stream", stream), zap.Error(err))
	switch {
	case errors.Is(err, errNotConfigured):
		return replyNotConfigured
	case errors.Is(err, errTimeout):
		return replyTimeout
	case errors.Is(err, errTransport):
		return replyConnectionFailed
	case errors.Is(err, errBadFormat):
		return replyBadFormat
	case errors.Is(err, errEmptyStream):
		return replyEmptyStream
	default:
		return replyUnexpected
	}
}

// GenerateTitle asks the provider for a short session title based on the
// first user message. Any failure yields the default title; the outcome
// records which path was taken.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) TitleOutcome {
	messages := []ChatMessage{
		{Role: "system", Content: titlePrompt},
		{Role: "user", Content: firstMessage},
	}

	title, err := c.complete(ctx, messages, false)
	if err != nil {
		c.logger.Warn("title generation failed", zap.Error(err))
		return TitleOutcome{Title: defaultTitle, FromProvider: false}
	}

	// The limit counts characters, not bytes, so multi-byte titles are
	// never cut mid-rune.
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	title = strings.Trim(title, `"'`)
	if title == "" {
		return TitleOutcome{Title: defaultTitle, FromProvider: false}
	}
	return TitleOutcome{Title: title, FromProvider: true}
}

func (c *Client) complete(ctx context.Context, messages []ChatMessage, stream bool) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errNotConfigured
	}

	payload := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      stream,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build completion request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	req.Header.Set("X-Title", "AI Chatbot App")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", errTimeout
		}
		return "", fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, string(raw))
	}

	if stream {
		return c.readStream(resp.Body)
	}
	return c.readComplete(resp.Body)
}

func (c *Client) readComplete(body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errTransport, err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errBadFormat
	}
	if len(parsed.Choices) == 0 {
		return "", errBadFormat
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// readStream consumes a server-sent-event stream, accumulating delta
// content fragments in arrival order. Unparseable event payloads are
// skipped; a [DONE] sentinel ends the stream early.
func (c *Client) readStream(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		full.WriteString(chunk.Choices[0].Delta.Content)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errTransport, err)
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", errEmptyStream
	}
	return text, nil
}
