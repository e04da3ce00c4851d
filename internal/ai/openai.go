package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"conversepdf/internal/apperr"
)

// ProviderOpenAI names the OpenAI guard, spans and metrics.
const ProviderOpenAI = "openai"

// NewOpenAIClient builds a client; baseURL overrides the API endpoint for
// compatible servers.
func NewOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, apperr.Errorf(apperr.KindInvalidConfiguration, "openai.client", "missing OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg), nil
}

type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	batchSize int
	guard     *Guard
}

func NewOpenAIEmbedder(client *openai.Client, model string, dimension, batchSize int, guard *Guard) *OpenAIEmbedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OpenAIEmbedder{
		client:    client,
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
		batchSize: batchSize,
		guard:     guard,
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "openai.embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		var resp openai.EmbeddingResponse
		err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
			var err error
			resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
				Input: texts[start:end],
				Model: e.model,
			})
			return err
		})
		if err != nil {
			return nil, apperr.E(apperr.KindEmbeddingProvider, op, err)
		}
		if len(resp.Data) != end-start {
			return nil, apperr.Errorf(apperr.KindEmbeddingProvider, op,
				"requested %d embeddings, got %d", end-start, len(resp.Data))
		}

		// Data carries its input index; do not rely on response order.
		sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

type OpenAISynthesizer struct {
	client *openai.Client
	cfg    SynthesisConfig
	guard  *Guard
}

func NewOpenAISynthesizer(client *openai.Client, cfg SynthesisConfig, guard *Guard) *OpenAISynthesizer {
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	return &OpenAISynthesizer{client: client, cfg: cfg, guard: guard}
}

func (s *OpenAISynthesizer) Answer(ctx context.Context, question string, contexts []string) (string, error) {
	const op = "openai.answer"
	req := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(question, FitContexts(contexts, s.cfg.ContextBudget))},
		},
		Temperature: float32(s.cfg.Temperature),
		MaxTokens:   s.cfg.MaxOutputTokens,
	}

	var resp openai.ChatCompletionResponse
	err := s.guard.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		resp, err = s.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", apperr.E(apperr.KindSynthesisProvider, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.E(apperr.KindSynthesisProvider, op, fmt.Errorf("no choices returned"))
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", apperr.E(apperr.KindSynthesisProvider, op, fmt.Errorf("empty response"))
	}
	return answer, nil
}
