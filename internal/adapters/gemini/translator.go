// Package gemini translates recognized text with the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

const translatePrompt = "You are a translation engine for live captions. Translate the text below%s into each of these languages: %s. " +
	"Respond with a single JSON object whose keys are exactly those language codes and whose values are the translations. " +
	"Do not add explanations.\n\n%s"

// generator is the subset of *genai.Models the translator needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Translator struct {
	models generator
	model  string
}

func NewTranslator(ctx context.Context, apiKey, model string) (*Translator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini translator requires api_key")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	log.Info().Str("module", "gemini").Str("model", model).Msg("translator ready")
	return &Translator{models: client.Models, model: model}, nil
}

// Translate returns a translation for every target the model answered. Languages missing
// from the answer are omitted.
func (t *Translator) Translate(ctx context.Context, text, source string, targets []string) (map[string]string, error) {
	if text == "" || len(targets) == 0 {
		return map[string]string{}, nil
	}
	from := ""
	if source != "" {
		from = " from " + source
	}
	prompt := fmt.Sprintf(translatePrompt, from, strings.Join(targets, ", "), text)

	resp, err := t.models.GenerateContent(ctx, t.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate translation: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				sb.WriteString(part.Text)
			}
		}
	}
	return parseTranslations(sb.String(), targets)
}

func parseTranslations(raw string, targets []string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("no translation content found in response")
	}

	var got map[string]string
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		return nil, fmt.Errorf("decode translation: %w", err)
	}
	out := make(map[string]string, len(targets))
	for _, lang := range targets {
		if v, ok := got[lang]; ok && v != "" {
			out[lang] = v
		}
	}
	return out, nil
}
