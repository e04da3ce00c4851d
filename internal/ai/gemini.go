package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"conversepdf/internal/apperr"
)

// ProviderGemini names the Gemini guard, spans and metrics.
const ProviderGemini = "gemini"

// maxGeminiBatch is the largest batch BatchEmbedContents accepts.
const maxGeminiBatch = 100

// NewGeminiClient opens a Gemini API client. Close it when done.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, apperr.Errorf(apperr.KindInvalidConfiguration, "gemini.client", "missing GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidConfiguration, "gemini.client", err)
	}
	return client, nil
}

// GeminiEmbedder embeds texts with a Gemini embedding model.
type GeminiEmbedder struct {
	model     *genai.EmbeddingModel
	dimension int
	batchSize int
	guard     *Guard
}

func NewGeminiEmbedder(client *genai.Client, model string, dimension, batchSize int, guard *Guard) *GeminiEmbedder {
	if batchSize <= 0 || batchSize > maxGeminiBatch {
		batchSize = maxGeminiBatch
	}
	return &GeminiEmbedder{
		model:     client.EmbeddingModel(model),
		dimension: dimension,
		batchSize: batchSize,
		guard:     guard,
	}
}

func (e *GeminiEmbedder) Dimension() int { return e.dimension }

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "gemini.embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		batch := e.model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		var resp *genai.BatchEmbedContentsResponse
		err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
			var err error
			resp, err = e.model.BatchEmbedContents(ctx, batch)
			return err
		})
		if err != nil {
			return nil, apperr.E(apperr.KindEmbeddingProvider, op, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, apperr.Errorf(apperr.KindEmbeddingProvider, op,
				"requested %d embeddings, got %d", end-start, len(resp.Embeddings))
		}
		for _, emb := range resp.Embeddings {
			if emb == nil {
				return nil, apperr.Errorf(apperr.KindEmbeddingProvider, op, "empty embedding in response")
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

// GeminiSynthesizer answers questions with a Gemini chat model.
type GeminiSynthesizer struct {
	model  *genai.GenerativeModel
	budget int
	guard  *Guard
}

type SynthesisConfig struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	ContextBudget   int
}

func NewGeminiSynthesizer(client *genai.Client, cfg SynthesisConfig, guard *Guard) *GeminiSynthesizer {
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SetMaxOutputTokens(int32(cfg.MaxOutputTokens))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt)}}

	budget := cfg.ContextBudget
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	return &GeminiSynthesizer{model: model, budget: budget, guard: guard}
}

func (s *GeminiSynthesizer) Answer(ctx context.Context, question string, contexts []string) (string, error) {
	const op = "gemini.answer"
	prompt := BuildPrompt(question, FitContexts(contexts, s.budget))

	var resp *genai.GenerateContentResponse
	err := s.guard.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		resp, err = s.model.GenerateContent(ctx, genai.Text(prompt))
		return err
	})
	if err != nil {
		return "", apperr.E(apperr.KindSynthesisProvider, op, err)
	}

	answer := responseText(resp)
	if answer == "" {
		return "", apperr.E(apperr.KindSynthesisProvider, op, fmt.Errorf("empty response"))
	}
	return answer, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return strings.TrimSpace(b.String())
}
