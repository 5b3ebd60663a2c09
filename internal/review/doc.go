// Package review turns a task into a model prompt and turns the model's
// free-form reply back into a validated Review.
//
// The pipeline is BuildPrompt, then Extractor.Extract (direct parse, fenced
// block, brace slice, optional repair), then Validate. Nothing downstream of
// Validate ever sees the dynamic value decoded from model text.
//
// Classify and Categorize partition improvement items by their textual prefix
// ("Bug Fix:", "Refactor:", "Performance:"); SplitCodeFence separates one
// item into prose and a single embedded code block for display.
package review
