package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docqa/internal/models"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel = string(goopenai.SmallEmbedding3)
	DefaultChatModel      = goopenai.GPT4oMini
)

// Client talks to the OpenAI API, or any server speaking the same protocol
// when BaseURL is set (vLLM, LM Studio, llama.cpp server...).
type Client struct {
	api            *goopenai.Client
	embeddingModel string
	chatModel      string
	dimensions     int
	temperature    float32
}

type Options struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int // 0 keeps the model's native size
	Temperature    float64
	HTTPTimeout    time.Duration
}

func NewClient(opts Options) *Client {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPTimeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.HTTPTimeout}
	}

	c := &Client{
		api:            goopenai.NewClientWithConfig(cfg),
		embeddingModel: opts.EmbeddingModel,
		chatModel:      opts.ChatModel,
		dimensions:     opts.Dimensions,
		temperature:    float32(opts.Temperature),
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.chatModel == "" {
		c.chatModel = DefaultChatModel
	}
	return c
}

// EmbeddingModel identifies the vectors this client produces.
func (c *Client) EmbeddingModel() string {
	return "openai/" + c.embeddingModel
}

// ChatModel identifies the model answering questions.
func (c *Client) ChatModel() string {
	return "openai/" + c.chatModel
}

// CreateEmbeddings returns one vector per input, in input order.
func (c *Client) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(c.embeddingModel),
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// Learning: the API may return data out of order; Index is authoritative
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Embed satisfies the embedding provider contract.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.CreateEmbeddings(ctx, texts)
}

// ChatCompletion generates a non-streaming chat completion
func (c *Client) ChatCompletion(ctx context.Context, messages []models.Message) (string, error) {
	apiMessages := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		apiMessages[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    apiMessages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no completion returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Generate satisfies the answer generator contract.
func (c *Client) Generate(ctx context.Context, messages []models.Message) (string, error) {
	return c.ChatCompletion(ctx, messages)
}

// IsPermanent reports errors that retrying cannot fix: rejected requests
// other than rate limiting and server-side failures.
func IsPermanent(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return permanentStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return permanentStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func permanentStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return false
	case code >= 400 && code < 500:
		return true
	}
	return false
}
