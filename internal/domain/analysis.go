package domain

// ResumeAnalysis is the structured extraction produced from one resume
// document. IsResume distinguishes a genuine resume from an unrelated
// document; when false the other fields are meaningless.
type ResumeAnalysis struct {
	IsResume bool   `json:"is_resume"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Summary  string `json:"summary"`
	Tags     []Tag  `json:"tags"`
}
