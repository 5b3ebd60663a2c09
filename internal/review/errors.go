package review

import (
	"encoding/json"
	"fmt"
)

// MalformedOutputError reports model text from which no JSON could be
// recovered. Raw and both parse errors are kept for diagnosis.
type MalformedOutputError struct {
	Raw         string
	DirectErr   error
	FallbackErr error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("model returned invalid JSON: direct parse: %v; fallback: %v", e.DirectErr, e.FallbackErr)
}

// ShapeError reports a payload that parsed but does not match the review
// contract.
type ShapeError struct {
	Reason  string
	Payload any
}

func (e *ShapeError) Error() string {
	return "model JSON shape invalid: " + e.Reason
}

// PayloadJSON renders the offending payload for logs.
func (e *ShapeError) PayloadJSON() string {
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Sprintf("%v", e.Payload)
	}
	return string(b)
}
