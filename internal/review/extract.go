package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

const fence = "```"

var errNoObject = errors.New("no JSON object found")

// Extractor recovers a JSON payload from raw model text.
//
// Strategies run in order and the first parse that succeeds wins: the whole
// trimmed text; the body of a fenced block when the text starts with a fence;
// otherwise the slice from the first '{' to the last '}'. With Repair set,
// text that still fails but contains a '{' is run through jsonrepair, and the
// result is accepted only if it is a JSON object.
type Extractor struct {
	Repair bool
}

// Extract runs the default extractor without repair.
func Extract(raw string) (ParseOutcome, error) {
	return Extractor{}.Extract(raw)
}

func (x Extractor) Extract(raw string) (ParseOutcome, error) {
	text := strings.TrimSpace(raw)

	v, directErr := decode(text)
	if directErr == nil {
		return ParseOutcome{Value: v, Candidate: text, Strategy: StrategyDirect}, nil
	}

	var (
		candidate string
		strategy  Strategy
		found     bool
	)
	if strings.HasPrefix(text, fence) {
		candidate, strategy, found = unfence(text), StrategyFenced, true
	} else {
		candidate, found = braceSlice(text)
		strategy = StrategyBraces
	}

	fallbackErr := errNoObject
	if found {
		v, err := decode(candidate)
		if err == nil {
			return ParseOutcome{Value: v, Candidate: candidate, Strategy: strategy}, nil
		}
		fallbackErr = err
	}

	if x.Repair {
		out, err := repair(text)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errNoObject) {
			fallbackErr = errors.Join(fallbackErr, err)
		}
	}

	return ParseOutcome{}, &MalformedOutputError{
		Raw:         raw,
		DirectErr:   directErr,
		FallbackErr: fallbackErr,
	}
}

func decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// unfence drops the opening fence and its language tag, then cuts at the last
// closing fence if there is one.
func unfence(text string) string {
	body := strings.TrimPrefix(text, fence)
	body = strings.TrimLeftFunc(body, isTagRune)
	body = strings.TrimLeft(body, " \t\r\n")
	if end := strings.LastIndex(body, fence); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isTagRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func braceSlice(text string) (string, bool) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last == -1 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}

func repair(text string) (ParseOutcome, error) {
	if strings.HasPrefix(text, fence) {
		text = unfence(text)
	}
	candidate, ok := braceSlice(text)
	if !ok {
		first := strings.Index(text, "{")
		if first == -1 {
			return ParseOutcome{}, errNoObject
		}
		// Truncated replies lose their closing brace.
		candidate = text[first:]
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return ParseOutcome{}, fmt.Errorf("repair: %w", err)
	}
	v, err := decode(fixed)
	if err != nil {
		return ParseOutcome{}, fmt.Errorf("repair: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return ParseOutcome{}, errors.New("repair: result is not an object")
	}
	return ParseOutcome{Value: v, Candidate: fixed, Strategy: StrategyRepaired}, nil
}
