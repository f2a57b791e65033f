// Package ollama adapts a local Ollama server for embeddings and chat.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docqa/internal/models"

	"github.com/ollama/ollama/api"
)

const (
	DefaultHost           = "http://localhost:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultChatModel      = "llama3.2"
)

type Client struct {
	api            *api.Client
	embeddingModel string
	chatModel      string
	temperature    float64
}

type Options struct {
	Host           string
	EmbeddingModel string
	ChatModel      string
	Temperature    float64
	HTTPTimeout    time.Duration
}

func NewClient(opts Options) (*Client, error) {
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	httpClient := &http.Client{Timeout: opts.HTTPTimeout}

	c := &Client{
		api:            api.NewClient(base, httpClient),
		embeddingModel: opts.EmbeddingModel,
		chatModel:      opts.ChatModel,
		temperature:    opts.Temperature,
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.chatModel == "" {
		c.chatModel = DefaultChatModel
	}
	return c, nil
}

func (c *Client) EmbeddingModel() string {
	return "ollama/" + c.embeddingModel
}

func (c *Client) ChatModel() string {
	return "ollama/" + c.chatModel
}

// Embed sends the whole batch in one /api/embed call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Generate runs a non-streaming chat and returns the assistant's reply.
func (c *Client) Generate(ctx context.Context, messages []models.Message) (string, error) {
	apiMessages := make([]api.Message, len(messages))
	for i, m := range messages {
		apiMessages[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.chatModel,
		Messages: apiMessages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.temperature,
		},
	}

	var reply strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return reply.String(), nil
}

// IsPermanent reports client errors (unknown model, bad request) that a
// retry will not fix.
func IsPermanent(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
			statusErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
