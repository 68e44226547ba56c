// Package classify turns raw provider moderation scores into a categorical
// verdict. Classify is a pure function so it can be tested exhaustively
// against synthetic score vectors.
package classify

import (
	"math"
)

// Scores is the nudity score object returned by the moderation provider.
// Absent sub-scores are nil and excluded from classification, not treated
// as zero.
type Scores struct {
	Raw            *float64 `json:"raw,omitempty"`
	Partial        *float64 `json:"partial,omitempty"`
	Sexy           *float64 `json:"sexy,omitempty"`
	Suggestive     *float64 `json:"suggestive,omitempty"`
	SexualActivity *float64 `json:"sexual_activity,omitempty"`
	SexualDisplay  *float64 `json:"sexual_display,omitempty"`
}

// Verdict is the categorical output for a moderation request.
type Verdict struct {
	Status     string `json:"status"`     // "Nudity" or "Not Nudity"
	Percentage int    `json:"percentage"` // rounded confidence, 0–100
	Category   string `json:"category"`
	APIUsed    string `json:"api_used"`
}

// Verdict categories.
const (
	CategoryNude           = "Nude"
	CategorySexualActivity = "Sexual Activity"
	CategorySemiNude       = "Semi-Nude"
	CategorySexy           = "Sexy"
	CategoryPartialNudity  = "Partial Nudity"
	CategoryRegular        = "Regular"
)

// categoryPriority fixes the tie-break order for category assignment: the
// first sub-score equal to the maximum wins.
var categoryPriority = []struct {
	score    func(Scores) *float64
	category string
}{
	{func(s Scores) *float64 { return s.Raw }, CategoryNude},
	{func(s Scores) *float64 { return s.SexualActivity }, CategorySexualActivity},
	{func(s Scores) *float64 { return s.Suggestive }, CategorySemiNude},
	{func(s Scores) *float64 { return s.Sexy }, CategorySexy},
}

// Classify maps a score vector to a verdict.
//
// Confidence is the maximum of the defined sub-scores (0 when none are
// defined). The nudity threshold tightens to 0.3 once confidence exceeds
// 0.7, and any single defined score above the threshold flags the image,
// not only the maximum.
func Classify(scores Scores, provider string) Verdict {
	collected := scores.collect()

	confidence := 0.0
	for _, v := range collected {
		if v > confidence {
			confidence = v
		}
	}

	threshold := 0.5
	if confidence > 0.7 {
		threshold = 0.3
	}

	isNudity := false
	for _, v := range collected {
		if v > threshold {
			isNudity = true
			break
		}
	}

	v := Verdict{
		Status:     "Not Nudity",
		Percentage: int(math.Round(confidence * 100)),
		Category:   CategoryRegular,
		APIUsed:    provider,
	}
	if !isNudity {
		return v
	}

	v.Status = "Nudity"
	v.Category = CategoryPartialNudity
	for _, p := range categoryPriority {
		if s := p.score(scores); s != nil && *s == confidence {
			v.Category = p.category
			break
		}
	}
	return v
}

// collect returns the defined sub-scores.
func (s Scores) collect() []float64 {
	var out []float64
	for _, p := range []*float64{s.Raw, s.Partial, s.Sexy, s.Suggestive, s.SexualActivity, s.SexualDisplay} {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
