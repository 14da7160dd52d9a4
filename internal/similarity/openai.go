package similarity

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const summarizePrompt = `You merge two duplicate personal goals into one.
Write a single concise goal description (at most 120 words) that keeps every
concrete detail, deadline and success criterion from both. Reply with the
description only.`

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// OpenAISummarizer merges goal summaries with a chat completion model.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client for apiKey; baseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

// NewOpenAIEmbedder creates an embedder using model.
func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

// NewOpenAISummarizer creates a summarizer using model.
func NewOpenAISummarizer(client *openai.Client, model string) *OpenAISummarizer {
	return &OpenAISummarizer{client: client, model: model}
}

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, primary, duplicate string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Goal A:\n" + primary + "\n\nGoal B:\n" + duplicate},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai returned an empty summary")
	}
	return text, nil
}

// classifyOpenAIError marks client errors other than rate limiting as permanent.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) && isClientError(apiErr.HTTPStatusCode) {
		return Permanent(err)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) && isClientError(reqErr.HTTPStatusCode) {
		return Permanent(err)
	}
	return err
}

func isClientError(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}
