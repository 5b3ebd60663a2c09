package review

import "encoding/json"

// Strategy names the extraction step that produced a parsable payload.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyFenced   Strategy = "fenced"
	StrategyBraces   Strategy = "braces"
	StrategyRepaired Strategy = "repaired"
)

// ParseOutcome is a successful extraction: the decoded value, the text that
// decoded, and which strategy found it. Failure is reported as a
// *MalformedOutputError instead.
type ParseOutcome struct {
	Value     any
	Candidate string
	Strategy  Strategy
}

// Review is a validated model review. It is immutable: accessors return
// copies.
type Review struct {
	score        float64
	strengths    []string
	improvements []string
}

// NewReview builds a Review from already-trusted values, such as fields
// decoded from storage.
func NewReview(score float64, strengths, improvements []string) Review {
	return Review{
		score:        score,
		strengths:    cloneStrings(strengths),
		improvements: cloneStrings(improvements),
	}
}

func (r Review) Score() float64         { return r.score }
func (r Review) Strengths() []string    { return cloneStrings(r.strengths) }
func (r Review) Improvements() []string { return cloneStrings(r.improvements) }
func (r Review) Classified() Buckets    { return Classify(r.improvements) }

type reviewJSON struct {
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

func (r Review) MarshalJSON() ([]byte, error) {
	return json.Marshal(reviewJSON{
		Score:        r.score,
		Strengths:    cloneStrings(r.strengths),
		Improvements: cloneStrings(r.improvements),
	})
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
