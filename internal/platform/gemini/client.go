package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/sjtutim/hrdb-sub001/internal/config"
	"github.com/sjtutim/hrdb-sub001/internal/domain"
)

// Client wraps the Gemini API for the task executors. Every call carries a
// per-request deadline and retries transient failures with exponential
// backoff; permanent failures (blocked content, unparseable responses)
// surface immediately.
type Client struct {
	logger *slog.Logger
	cfg    config.LLMConfig
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client from the LLM configuration.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &Client{
		logger: logger.With("component", "gemini"),
		cfg:    cfg,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// ScoreMatch evaluates one candidate against one job, returning the
// authoritative score (0 to 100) and a textual evaluation.
func (c *Client) ScoreMatch(ctx context.Context, job *domain.Job, candidate *domain.Candidate) (int, string, error) {
	if job == nil || candidate == nil {
		return 0, "", ErrEmptyInput
	}

	var buf bytes.Buffer
	err := scoreMatchPrompt.Execute(&buf, scoreMatchData{
		JobTitle:         job.Title,
		JobDescription:   job.Description,
		JobTags:          formatTags(job.Tags),
		CandidateName:    candidate.Name,
		CandidateSummary: candidate.Summary,
		CandidateTags:    formatTags(candidate.Tags),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to build match prompt: %w", err)
	}

	var out struct {
		Score      int    `json:"score"`
		Evaluation string `json:"evaluation"`
	}
	if err := c.generateJSON(ctx, buf.String(), &out); err != nil {
		return 0, "", err
	}
	if out.Score < 0 || out.Score > 100 {
		return 0, "", fmt.Errorf("%w: score %d out of range", ErrInvalidResponse, out.Score)
	}
	return out.Score, out.Evaluation, nil
}

// AnalyzeResume extracts structured candidate data from resume text.
func (c *Client) AnalyzeResume(ctx context.Context, text string) (*domain.ResumeAnalysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	var buf bytes.Buffer
	if err := analyzeResumePrompt.Execute(&buf, analyzeResumeData{Text: text}); err != nil {
		return nil, fmt.Errorf("failed to build analysis prompt: %w", err)
	}

	var out domain.ResumeAnalysis
	if err := c.generateJSON(ctx, buf.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Draft generates free-form text for the given prompt.
func (c *Client) Draft(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyInput
	}
	return c.generate(ctx, prompt, nil)
}

// generateJSON runs the prompt in JSON response mode and unmarshals the
// result into out.
func (c *Client) generateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// generate calls the API with retry for transient failures.
func (c *Client) generate(ctx context.Context, prompt string, genCfg *genai.GenerateContentConfig) (string, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelaySeconds := c.cfg.RetryDelaySeconds
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		text, err := c.generateOnce(ctx, prompt, genCfg)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrInvalidResponse) {
			return "", err
		}
		if attempt >= maxRetries {
			break
		}

		backoff := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		jitter := 0.5 + rng.Float64()*0.5
		delay := time.Duration(backoff * jitter * float64(time.Second))

		c.logger.InfoContext(ctx, "retrying Gemini call after transient failure",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrTransientFailure, ctx.Err())
		}
	}

	return "", fmt.Errorf("%w: exceeded %d attempts: %v", ErrTransientFailure, maxRetries+1, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, prompt string, genCfg *genai.GenerateContentConfig) (string, error) {
	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(callCtx, c.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientFailure, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: response contained no text", ErrInvalidResponse)
	}
	return sb.String(), nil
}

func formatTags(tags []domain.Tag) string {
	if len(tags) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%s:%s", t.Category, t.Name))
	}
	return strings.Join(parts, ", ")
}
