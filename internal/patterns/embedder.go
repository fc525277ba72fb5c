package patterns

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig configures the langchaingo-backed embedder. It speaks
// the OpenAI embeddings API, which both TEI (Text Embeddings Inference)
// servers and OpenAI itself expose.
type EmbedderConfig struct {
	// BaseURL of the embeddings endpoint.
	// TEI: http://localhost:8080/v1, OpenAI: https://api.openai.com/v1
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is required for OpenAI; TEI servers ignore it.
	APIKey string
}

// DefaultEmbedderConfig returns a local-TEI default.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BaseURL: "http://localhost:8080/v1",
		Model:   "BAAI/bge-small-en-v1.5",
	}
}

// langchainEmbedder implements Embedder via langchaingo.
type langchainEmbedder struct {
	embedder embeddings.Embedder
}

// NewLangchainEmbedder creates an Embedder from the config.
func NewLangchainEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedder base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedder model is required")
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless TEI servers.
		apiKey = "not-needed"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &langchainEmbedder{embedder: emb}, nil
}

// EmbedQuery embeds a single text.
func (e *langchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
