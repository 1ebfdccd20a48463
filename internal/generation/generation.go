// Package generation implements the AI text generation queue: prompt
// templates and the task executor that drafts recruiting copy.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/sjtutim/hrdb-sub001/internal/task"
)

var (
	// ErrUnknownTemplate indicates the payload names a template that does
	// not exist.
	ErrUnknownTemplate = errors.New("unknown generation template")

	// ErrMissingInput indicates a required template input was absent or
	// blank.
	ErrMissingInput = errors.New("missing generation input")

	// ErrEmptyDraft indicates the model returned no usable text.
	ErrEmptyDraft = errors.New("generated draft is empty")
)

// Drafter is the LLM collaborator that produces free-form text for a
// rendered prompt.
type Drafter interface {
	Draft(ctx context.Context, prompt string) (string, error)
}

// Payload is the durable payload of one generation task.
type Payload struct {
	Template string            `json:"template"`
	Inputs   map[string]string `json:"inputs"`
}

// Result is the durable result of one completed generation task.
type Result struct {
	Template string `json:"template"`
	Text     string `json:"text"`
}

// promptTemplate couples a prompt with the input keys it requires.
type promptTemplate struct {
	required []string
	tmpl     *template.Template
}

const jobDescriptionPromptText = `Write a complete job description for the following position.
Include a role summary, responsibilities and requirements sections.

Position title: {{.title}}
Key requirements: {{.requirements}}
{{- if .notes}}
Additional notes: {{.notes}}
{{- end}}`

const outreachEmailPromptText = `Write a short, personable recruiting outreach email.

Candidate name: {{.candidate_name}}
Position title: {{.job_title}}
{{- if .company}}
Company: {{.company}}
{{- end}}
{{- if .highlights}}
Why this candidate fits: {{.highlights}}
{{- end}}

Keep it under 150 words and end with a clear call to action.`

// Template names accepted in generation payloads.
const (
	TemplateJobDescription = "job_description"
	TemplateOutreachEmail  = "outreach_email"
)

var promptTemplates = map[string]promptTemplate{
	TemplateJobDescription: {
		required: []string{"title", "requirements"},
		tmpl:     template.Must(template.New(TemplateJobDescription).Parse(jobDescriptionPromptText)),
	},
	TemplateOutreachEmail: {
		required: []string{"candidate_name", "job_title"},
		tmpl:     template.Must(template.New(TemplateOutreachEmail).Parse(outreachEmailPromptText)),
	},
}

// Templates lists the available template names, sorted.
func Templates() []string {
	names := make([]string, 0, len(promptTemplates))
	for name := range promptTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service executes generation tasks.
type Service struct {
	drafter Drafter
	logger  *slog.Logger
}

// NewService creates the generation executor.
func NewService(drafter Drafter, logger *slog.Logger) *Service {
	return &Service{drafter: drafter, logger: logger}
}

// Execute implements task.Executor.
func (s *Service) Execute(ctx context.Context, rec *task.Record) (json.RawMessage, error) {
	var payload Payload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid generation payload: %w", err)
	}

	prompt, err := RenderPrompt(payload.Template, payload.Inputs)
	if err != nil {
		return nil, err
	}

	text, err := s.drafter.Draft(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyDraft
	}

	s.logger.InfoContext(ctx, "draft generated",
		"task_id", rec.ID,
		"template", payload.Template,
		"length", len(text))

	return json.Marshal(Result{Template: payload.Template, Text: text})
}

// RenderPrompt validates the inputs and renders the named template.
func RenderPrompt(name string, inputs map[string]string) (string, error) {
	pt, ok := promptTemplates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	for _, key := range pt.required {
		if strings.TrimSpace(inputs[key]) == "" {
			return "", fmt.Errorf("%w: %q requires %q", ErrMissingInput, name, key)
		}
	}

	data := make(map[string]string, len(inputs))
	for k, v := range inputs {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := pt.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

var _ task.Executor = (*Service)(nil)
