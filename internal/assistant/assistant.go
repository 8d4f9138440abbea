// Package assistant answers "gpt <prompt>" chat commands with a chat
// completion model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

const (
	MsgNoResponse = "No response received."
	MsgError      = "There was an error processing your GPT request."
	MsgUsage      = "Usage: gpt <prompt>"

	DefaultModel     = openai.ChatModelGPT4oMini
	DefaultMaxTokens = 100
	DefaultTimeout   = 30 * time.Second
)

var ErrNoChoices = errors.New("completion returned no choices")

// Completer turns a prompt into a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures the OpenAI completer.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint for compatible servers.
	BaseURL      string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	MaxRetries   int
}

// OpenAI completes prompts with the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    Config
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if o.cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(o.cfg.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     o.cfg.Model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(o.cfg.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("requesting completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Assistant produces the whisper text for a gpt command.
type Assistant struct {
	sessionID string
	completer Completer
}

func New(sessionID string, c Completer) *Assistant {
	return &Assistant{sessionID: sessionID, completer: c}
}

// Reply never fails: errors become a fixed apology and are logged.
func (a *Assistant) Reply(ctx context.Context, user, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return MsgUsage
	}

	start := time.Now()
	reply, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		log.Error().
			Err(err).
			Str("session", a.sessionID).
			Str("user", user).
			Msg("GPT request failed")
		return MsgError
	}

	log.Debug().
		Str("session", a.sessionID).
		Str("user", user).
		Dur("duration", time.Since(start)).
		Msg("GPT reply")

	if reply = strings.TrimSpace(reply); reply == "" {
		return MsgNoResponse
	}
	return reply
}
