// Package openai generates embeddings for document chunks.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel produces vectors matching the document_chunks column.
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the width of document_chunks.embedding.
	DefaultEmbeddingDimensions = 1536
	// maxBatch caps the inputs sent in one embeddings request.
	maxBatch = 64
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	ErrNoAPIKey        = errors.New("openai api key is not set")
)

// EmbeddingAPI is the slice of the OpenAI API the client needs.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Client produces fixed-width embeddings.
type Client struct {
	api        EmbeddingAPI
	dimensions int
}

type OpenAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CreateEmbeddings returns one vector per input, in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
}

func NewClient(apiKey string) (*Client, error) {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

func NewClientWithConfig(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.EmbeddingModel),
		dimensions: dimensions,
	}, nil
}

// GenerateEmbedding embeds a single text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateEmbeddings embeds texts in batches and checks every vector's width.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch, err := c.api.CreateEmbeddings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding: %w", err)
		}
		for _, v := range batch {
			if len(v) != c.dimensions {
				return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(v))
			}
		}
		out = append(out, batch...)
	}
	return out, nil
}
