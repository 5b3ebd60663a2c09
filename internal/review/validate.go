package review

import (
	"encoding/json"
	"fmt"
)

// Validate checks a decoded payload against the review contract: score must
// be a number, strengths and improvements must be arrays. Array items are
// kept as strings; non-string items are rendered as their JSON text.
//
// The score range is not enforced.
func Validate(v any) (Review, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Review{}, &ShapeError{Reason: "payload is not an object", Payload: v}
	}
	score, ok := asNumber(obj["score"])
	if !ok {
		return Review{}, &ShapeError{Reason: "score must be a number", Payload: v}
	}
	strengths, ok := asStrings(obj["strengths"])
	if !ok {
		return Review{}, &ShapeError{Reason: "strengths must be an array", Payload: v}
	}
	improvements, ok := asStrings(obj["improvements"])
	if !ok {
		return Review{}, &ShapeError{Reason: "improvements must be an array", Payload: v}
	}
	return Review{score: score, strengths: strengths, improvements: improvements}, nil
}

// ExtractReview runs extraction and validation in one step.
func (x Extractor) ExtractReview(raw string) (Review, ParseOutcome, error) {
	out, err := x.Extract(raw)
	if err != nil {
		return Review{}, out, err
	}
	r, err := Validate(out.Value)
	if err != nil {
		return Review{}, out, err
	}
	return r, out, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asStrings(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		default:
			b, err := json.Marshal(s)
			if err != nil {
				out = append(out, fmt.Sprint(s))
				continue
			}
			out = append(out, string(b))
		}
	}
	return out, true
}
