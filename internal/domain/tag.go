package domain

import "strings"

// TagCategory classifies a profile tag. Categories carry different weights
// in the coarse match score: skill counts most, then experience, industry,
// education, personality and everything else.
type TagCategory string

// Recognized tag categories.
const (
	TagCategorySkill       TagCategory = "skill"
	TagCategoryExperience  TagCategory = "experience"
	TagCategoryIndustry    TagCategory = "industry"
	TagCategoryEducation   TagCategory = "education"
	TagCategoryPersonality TagCategory = "personality"
	TagCategoryOther       TagCategory = "other"
)

// categoryWeights are the relative weights used by the coarse tag score.
// They sum to 100 so a perfect overlap scores 100.
var categoryWeights = map[TagCategory]int{
	TagCategorySkill:       40,
	TagCategoryExperience:  25,
	TagCategoryIndustry:    15,
	TagCategoryEducation:   10,
	TagCategoryPersonality: 5,
	TagCategoryOther:       5,
}

// Weight returns the category's weight in the coarse score. Unknown
// categories fall back to the "other" weight.
func (c TagCategory) Weight() int {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return categoryWeights[TagCategoryOther]
}

// Tag is a single categorized label on a candidate or job profile.
type Tag struct {
	Category TagCategory `json:"category"`
	Name     string      `json:"name"`
}

// NormalizedName returns the tag name lowered and stripped of surrounding
// whitespace, the form used for overlap comparison.
func (t Tag) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(t.Name))
}
