package summarizer

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured for the OpenAI backend.
const DefaultModel = "gpt-4o-mini"

const summaryPrompt = `Summarize the following chat transcript in a few sentences.
Keep the topics discussed and any decisions made. Answer in the language of the transcript.`

// OpenAI summarizes with a chat-completion model. The reply is returned as
// {"answer": ..., "model": ...}.
type OpenAI struct {
	Client *openai.Client
	Model  string
}

// NewOpenAI builds a client for apiKey. baseURL may be empty to use the
// public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (o *OpenAI) Summarize(ctx context.Context, text string) (Summary, error) {
	resp, err := o.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, failed(err)
	}
	if len(resp.Choices) == 0 {
		return nil, failed(errors.New("no response from OpenAI"))
	}
	return Summary{
		"answer": strings.TrimSpace(resp.Choices[0].Message.Content),
		"model":  o.Model,
	}, nil
}
