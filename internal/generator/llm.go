package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quizforge/quizforge/internal/api"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// wireQuestion is the JSON shape the model is asked to emit. Metadata is
// stamped from the request, never trusted from the model.
type wireQuestion struct {
	Stem          string   `json:"stem"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Rationale     string   `json:"rationale"`
}

// LLM generates candidate questions by prompting an OpenAI-compatible model.
type LLM struct {
	client *api.Client
	cfg    config.GeneratorConfig
	logger *slog.Logger
}

// NewLLM creates the live generator from endpoint config and secrets.
func NewLLM(cfg config.GeneratorConfig, secrets *config.Secrets, logger *slog.Logger) *LLM {
	apiKey := secrets.GetAPIKey(cfg.BaseURL)
	logger.Debug("Question generator configured",
		"provider", config.GetProviderName(cfg.BaseURL),
		"model", cfg.ModelName,
		"json_mode", cfg.UseJSONMode)
	return &LLM{
		client: api.NewClient(cfg, apiKey, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Generate prompts the model once and parses its output into candidates.
// Transport errors keep their retry classification from the API layer;
// unparseable output is transient (the next sample may be well-formed).
func (g *LLM) Generate(ctx context.Context, req Request) ([]models.Candidate, error) {
	prompt, err := g.buildPrompt(req)
	if err != nil {
		// The template comes from config, so a render failure will not fix
		// itself on retry.
		return nil, &Error{Transient: false, Err: fmt.Errorf("render prompt: %w", err)}
	}

	var messages []api.Message
	if g.cfg.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: g.cfg.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})

	resp, err := g.client.ChatCompletion(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generator call failed: %w", err)
	}

	content := resp.Choices[0].Message.Content
	candidates, err := parseCandidates(content)
	if err != nil {
		g.logger.Warn("Failed to parse generator output",
			"error", err,
			"content_preview", truncate(content, 200))
		return nil, &Error{Transient: true, Err: err}
	}

	// Stamp the scope onto every candidate.
	for i := range candidates {
		candidates[i].Subject = req.Subject
		candidates[i].Grade = req.Grade
		candidates[i].Topic = req.Topic
		candidates[i].Subtopic = req.Subtopic
		candidates[i].Difficulty = req.Difficulty
	}

	g.logger.Debug("Generator returned candidates",
		"requested", req.Count,
		"parsed", len(candidates),
		"subtopic", req.Subtopic,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return candidates, nil
}

func (g *LLM) buildPrompt(req Request) (string, error) {
	data := map[string]interface{}{
		"Count":      req.Count,
		"Subject":    normalize.Display(req.Subject),
		"Grade":      req.Grade,
		"Topic":      normalize.Display(req.Topic),
		"Subtopic":   normalize.Display(req.Subtopic),
		"Difficulty": string(req.Difficulty),
		"Avoid":      req.Avoid,
	}
	return renderPrompt(g.cfg.PromptTemplate, data)
}

// parseCandidates turns raw model output into candidates, tolerating
// markdown fences, surrounding prose, unescaped newlines, and a truncated
// final element.
func parseCandidates(content string) ([]models.Candidate, error) {
	raw := sanitizeJSON(extractJSONArray(content))

	var items []wireQuestion
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("generator output is not a question array: %w", err)
	}

	out := make([]models.Candidate, 0, len(items))
	for _, it := range items {
		out = append(out, models.Candidate{
			Stem:          it.Stem,
			Options:       it.Options,
			CorrectAnswer: it.CorrectAnswer,
			Rationale:     it.Rationale,
		})
	}
	return out, nil
}
