// Package analysis provides optional LLM-backed content enrichment.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"crossfeed/pkg/domain"
)

// Config holds LLM analyzer settings
type Config struct {
	APIKey      string
	Endpoint    string // optional base URL override for compatible servers
	Model       string
	Temperature float64
	MaxTokens   int
}

// Analyzer enriches content via an OpenAI-compatible chat API
type Analyzer struct {
	client *openai.Client
	cfg    Config
}

const systemPrompt = `You analyze a piece of content and return a single JSON object with:
- tags: array of 1-5 short lowercase keyword tags
- topics: array of 1-3 broader topic keywords
- sentiment: one of "positive", "negative", "neutral"
- language: ISO 639-1 code of the content language

Return only the JSON object, no prose.`

// NewAnalyzer creates an LLM analyzer
func NewAnalyzer(cfg Config) *Analyzer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &Analyzer{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}
}

// Analyze enriches one piece of content. The model occasionally wraps JSON
// in markdown fences or chatter, so parsing retries up to 3 times.
func (a *Analyzer) Analyze(ctx context.Context, title, text string) (*domain.Analysis, error) {
	prompt := fmt.Sprintf("Title: %s\n\nContent:\n%s", title, truncate(text, 4000))

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req := openai.ChatCompletionRequest{
			Model:       a.cfg.Model,
			Temperature: float32(a.cfg.Temperature),
			MaxTokens:   a.cfg.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		}

		resp, err := a.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("llm request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no response from llm")
		}

		analysis, err := parseResponse(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			continue
		}
		return analysis, nil
	}

	return nil, fmt.Errorf("parse llm response: %w", lastErr)
}

func parseResponse(content string) (*domain.Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	switch analysis.Sentiment {
	case "positive", "negative", "neutral", "":
	default:
		analysis.Sentiment = "neutral"
	}
	return &analysis, nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
