package inference

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

const DefaultModel = "gemma-3n-e4b-it"

// GenAIProvider generates replies with the Google Gemini API.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("genai api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	return &GenAIProvider{client: client, model: model}, nil
}

func (p *GenAIProvider) Name() string { return "genai:" + p.model }

func (p *GenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), nil)
	if err != nil {
		return "", errors.Wrap(err, "genai generate content")
	}
	if resp == nil {
		return "", errors.New("genai returned no response")
	}
	return resp.Text(), nil
}
