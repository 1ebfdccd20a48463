package gemini

import "text/template"

// Prompt templates for the three call shapes. Each JSON prompt pins the
// exact response schema so the model output unmarshals directly.

const scoreMatchPromptText = `You are a technical recruiter evaluating how well a candidate fits a job.

Job title: {{.JobTitle}}
Job description:
{{.JobDescription}}
Job requirement tags: {{.JobTags}}

Candidate name: {{.CandidateName}}
Candidate summary:
{{.CandidateSummary}}
Candidate tags: {{.CandidateTags}}

Score the fit from 0 to 100 and explain your reasoning in two or three
sentences. Respond with JSON exactly matching this schema:
{"score": <integer 0-100>, "evaluation": "<string>"}`

const analyzeResumePromptText = `You are a resume screening assistant.

Analyze the following document. First decide whether it is a resume at all.
If it is, extract the candidate's name, email, phone, a two sentence summary,
and a set of categorized tags. Valid tag categories are: skill, experience,
industry, education, personality, other.

Document:
{{.Text}}

Respond with JSON exactly matching this schema:
{"is_resume": <bool>, "name": "<string>", "email": "<string>", "phone": "<string>", "summary": "<string>", "tags": [{"category": "<string>", "name": "<string>"}]}`

var (
	scoreMatchPrompt    = template.Must(template.New("score_match").Parse(scoreMatchPromptText))
	analyzeResumePrompt = template.Must(template.New("analyze_resume").Parse(analyzeResumePromptText))
)

type scoreMatchData struct {
	JobTitle         string
	JobDescription   string
	JobTags          string
	CandidateName    string
	CandidateSummary string
	CandidateTags    string
}

type analyzeResumeData struct {
	Text string
}
