// Package match implements the candidate evaluation engine: the coarse tag
// overlap score, the authoritative LLM evaluation with per-item fallback,
// and the match task executor.
package match

import (
	"math"
	"strings"

	"github.com/sjtutim/hrdb-sub001/internal/domain"
)

// similarCredit is the partial credit a similar (contained, not equal) tag
// earns relative to an exact match.
const similarCredit = 0.5

// CoarseScore computes the tag overlap summary for one candidate against
// one job. Job tags partition into matched (normalized name equality),
// similar (one normalized name contains the other) and missing; candidate
// tags untouched by either partition are extra.
//
// The score weighs each category present on the job by its domain weight,
// grants full credit per matched tag and half credit per similar tag, and
// scales to 0 to 100 so a fully matched job scores 100 regardless of its
// tag mix. The result is for display only; ranking uses the authoritative
// evaluation score.
func CoarseScore(job *domain.Job, candidate *domain.Candidate) domain.TagSummary {
	summary := domain.TagSummary{
		Matched: []string{},
		Missing: []string{},
		Similar: []string{},
		Extra:   []string{},
	}
	if job == nil || candidate == nil {
		return summary
	}

	used := make([]bool, len(candidate.Tags))

	type categoryTally struct {
		total   int
		matched int
		similar int
		weight  int
	}
	tallies := make(map[domain.TagCategory]*categoryTally)

	for _, jobTag := range job.Tags {
		tally, ok := tallies[jobTag.Category]
		if !ok {
			tally = &categoryTally{weight: jobTag.Category.Weight()}
			tallies[jobTag.Category] = tally
		}
		tally.total++

		idx, kind := bestOverlap(jobTag, candidate.Tags, used)
		switch kind {
		case overlapExact:
			used[idx] = true
			tally.matched++
			summary.Matched = append(summary.Matched, jobTag.Name)
		case overlapSimilar:
			used[idx] = true
			tally.similar++
			summary.Similar = append(summary.Similar, jobTag.Name)
		default:
			summary.Missing = append(summary.Missing, jobTag.Name)
		}
	}

	for i, tag := range candidate.Tags {
		if !used[i] {
			summary.Extra = append(summary.Extra, tag.Name)
		}
	}

	var credit, weightSum float64
	for _, tally := range tallies {
		weightSum += float64(tally.weight)
		fraction := (float64(tally.matched) + similarCredit*float64(tally.similar)) / float64(tally.total)
		credit += fraction * float64(tally.weight)
	}
	if weightSum > 0 {
		summary.CoarseScore = int(math.Round(credit / weightSum * 100))
	}
	return summary
}

type overlapKind int

const (
	overlapNone overlapKind = iota
	overlapSimilar
	overlapExact
)

// bestOverlap finds the unused candidate tag that best matches the job tag,
// preferring an exact normalized match over a containment match.
func bestOverlap(jobTag domain.Tag, candidateTags []domain.Tag, used []bool) (int, overlapKind) {
	jobName := jobTag.NormalizedName()
	if jobName == "" {
		return -1, overlapNone
	}

	similarIdx := -1
	for i, tag := range candidateTags {
		if used[i] {
			continue
		}
		name := tag.NormalizedName()
		if name == "" {
			continue
		}
		if name == jobName {
			return i, overlapExact
		}
		if similarIdx < 0 && (strings.Contains(name, jobName) || strings.Contains(jobName, name)) {
			similarIdx = i
		}
	}
	if similarIdx >= 0 {
		return similarIdx, overlapSimilar
	}
	return -1, overlapNone
}
