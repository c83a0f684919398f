package adapter

import (
	"context"
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"google.golang.org/genai"
)

// Provider yields text fragments for a prompt, in order. The sequence stops
// at the first non-nil error.
type Provider interface {
	GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	temperature     *float32
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiClient) {
		g.temperature = &t
	}
}

// GeminiConfig selects the backend. APIKey uses the Gemini API directly,
// otherwise Project and Location select Vertex AI.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
}

// NewGemini returns a client wrapping model.ErrConfiguration when neither an
// API key nor a Vertex AI project is given.
func NewGemini(ctx context.Context, cfg GeminiConfig, opts ...GeminiOption) (*GeminiClient, error) {
	var clientCfg *genai.ClientConfig
	switch {
	case cfg.APIKey != "":
		clientCfg = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	case cfg.Project != "":
		if cfg.Location == "" {
			return nil, goerr.Wrap(model.ErrConfiguration, "gemini location is required for Vertex AI")
		}
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	default:
		return nil, goerr.Wrap(model.ErrConfiguration, "GEMINI_API_KEY is not configured")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	var config *genai.GenerateContentConfig
	if g.temperature != nil {
		config = &genai.GenerateContentConfig{Temperature: g.temperature}
	}

	return func(yield func(string, error) bool) {
		stream := g.client.Models.GenerateContentStream(ctx, g.generativeModel, genai.Text(prompt), config)
		for resp, err := range stream {
			if err != nil {
				yield("", goerr.Wrap(err, "failed to generate content stream", goerr.V("model", g.generativeModel)))
				return
			}

			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
