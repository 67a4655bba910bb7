package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI defaults.
const (
	DefaultOpenAIURL     = "https://api.openai.com/v1"
	DefaultChatModel     = openai.GPT4oMini
	DefaultWhisperModel  = openai.Whisper1
	DefaultHistoryLength = 20
)

var systemPrompts = map[Mode]string{
	ModeAssistant: "You are a smart assistant answering through a heads-up display. " +
		"Keep answers to one or two short sentences.",
	ModeTranslator: "You are a translator. Translate everything the user says into English " +
		"and reply with the translation only.",
}

// OpenAI is a client for the transcription, translation and chat endpoints.
// It keeps a rolling chat history so follow-up questions have context.
type OpenAI struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	WhisperModel string
	MaxHistory   int
	HTTP         *http.Client

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
}

// NewOpenAI returns a client with default endpoints and models.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		APIKey:       apiKey,
		BaseURL:      DefaultOpenAIURL,
		ChatModel:    DefaultChatModel,
		WhisperModel: DefaultWhisperModel,
		MaxHistory:   DefaultHistoryLength,
		HTTP:         &http.Client{Timeout: DefaultTimeout},
	}
}

// client builds a go-openai client from the current settings.
func (c *OpenAI) client() *openai.Client {
	cfg := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.HTTP != nil {
		cfg.HTTPClient = c.HTTP
	}
	return openai.NewClientWithConfig(cfg)
}

// Transcribe sends a WAV recording to Whisper. In translator mode the text
// comes back translated into English.
func (c *OpenAI) Transcribe(ctx context.Context, wav []byte, mode Mode) (string, error) {
	req := openai.AudioRequest{
		Model:    c.WhisperModel,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
	}

	var (
		res openai.AudioResponse
		err error
	)
	if mode == ModeTranslator {
		res, err = c.client().CreateTranslation(ctx, req)
	} else {
		res, err = c.client().CreateTranscription(ctx, req)
	}
	if err != nil {
		return "", openAIError("transcription", err)
	}
	text := strings.TrimSpace(res.Text)
	slog.Debug("[AI] Transcribed", "mode", mode, "text", text)
	return text, nil
}

// Converse asks the chat model about query. The exchange is appended to the
// history only when it succeeds.
func (c *OpenAI) Converse(ctx context.Context, query string, mode Mode) (string, error) {
	c.mu.Lock()
	messages := make([]openai.ChatCompletionMessage, 0, len(c.history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompts[mode]})
	messages = append(messages, c.history...)
	c.mu.Unlock()
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	res, err := c.client().CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.ChatModel,
		Messages: messages,
	})
	if err != nil {
		return "", openAIError("chat", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("ai: chat response had no choices")
	}
	reply := strings.TrimSpace(res.Choices[0].Message.Content)

	c.mu.Lock()
	c.history = append(c.history,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
	if limit := c.MaxHistory; limit > 0 && len(c.history) > limit {
		c.history = append([]openai.ChatCompletionMessage(nil), c.history[len(c.history)-limit:]...)
	}
	c.mu.Unlock()
	return reply, nil
}

// ClearHistory forgets previous exchanges.
func (c *OpenAI) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// openAIError converts go-openai's error types into an *APIError so callers
// see one shape for every upstream service.
func openAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		out := &APIError{Service: "openai", StatusCode: reqErr.HTTPStatusCode}
		if reqErr.Err != nil {
			out.Message = reqErr.Err.Error()
		}
		return out
	}
	return fmt.Errorf("ai: openai %s request: %w", op, err)
}
