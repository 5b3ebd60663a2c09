package review

import (
	"strings"
)

const reviewerPreamble = `You are a strict senior software engineer reviewing a coding task.`

const reviewerDuties = `Your job:
1. Identify concrete **bugs** and correctness issues.
2. Suggest **refactors** to improve readability, structure, and maintainability.
3. Give the entire refactored code with the bug fixes.
4. Suggest **performance / efficiency improvements** (time / space complexity, unnecessary work, etc.).

Respond ONLY with JSON that can be parsed by a standard JSON parser.

The JSON shape MUST be exactly:

{
  "score": number,          // from 0 to 100
  "strengths": string[],    // list of positive points
  "improvements": string[]  // list of concrete improvements
}

In "improvements", include AT LEAST one item for each of these categories (if applicable):
- Start bug-related items with "Bug Fix:"
- Start refactor-related items with "Refactor:"
- Start performance-related items with "Performance:"

Do not include any explanations, markdown, comments, or text outside the JSON object.
Return a single JSON object only.`

// BuildPrompt renders the review instruction for one task. Title, description
// and code are embedded verbatim; callers must reject empty fields first.
//
// The embedded text is not escaped, so a submission can try to steer the
// model. Validate is what keeps the result well-formed.
func BuildPrompt(title, description, code string) string {
	var b strings.Builder
	b.WriteString(reviewerPreamble)
	b.WriteString("\n\nTask Title: ")
	b.WriteString(title)
	b.WriteString("\nTask Description: ")
	b.WriteString(description)
	b.WriteString("\n\nCode:\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString(reviewerDuties)
	return b.String()
}
