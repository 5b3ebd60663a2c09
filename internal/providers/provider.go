// Package providers talks to text-generation models. Each call is a single
// request: retries, if any, belong to the caller.
package providers

import (
	"context"
	"fmt"
)

// Request is one generation call.
type Request struct {
	Prompt      string
	Temperature float64
	JSONMode    bool
}

// Response carries the model's raw text.
type Response struct {
	Text       string
	TokensUsed int
}

// Generator is the model abstraction used by the review engine.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
