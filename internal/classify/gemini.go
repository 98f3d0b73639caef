package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiClassifier uses the Gemini API through the genai SDK. Without an API
// key the SDK falls back to GOOGLE_API_KEY or Vertex settings from the
// environment.
type GeminiClassifier struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClassifier, error) {
	cc := &genai.ClientConfig{HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"}}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClassifier{client: client, model: cfg.Model, log: logger}, nil
}

func (g *GeminiClassifier) Name() string { return "gemini:" + g.model }

func (g *GeminiClassifier) Classify(ctx context.Context, req Request) ([]Result, error) {
	start := time.Now()
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req)), config)
	if err != nil {
		g.log.Error("classify.gemini.generate_error", "model", g.model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, errors.New("empty response from model")
	}
	results, err := DecodeResponse(text)
	if err != nil {
		g.log.Error("classify.gemini.decode_error", "model", g.model, "error", err, "raw_bytes", len(text))
		return nil, err
	}

	g.log.Info("classify.gemini.ok",
		"model", g.model,
		"items", len(req.Items),
		"results", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}
