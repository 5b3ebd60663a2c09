package review

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codereview/internal/domain"
)

func TestBuildPrompt_EmbedsFieldsAndContract(t *testing.T) {
	p := BuildPrompt("Sum", "Add two numbers", "func add(a, b int) int { return a - b }")

	assert.True(t, strings.HasPrefix(p, reviewerPreamble))
	assert.Contains(t, p, "Task Title: Sum\n")
	assert.Contains(t, p, "Task Description: Add two numbers\n")
	assert.Contains(t, p, "Code:\nfunc add(a, b int) int { return a - b }\n")
	for _, prefix := range []string{`"Bug Fix:"`, `"Refactor:"`, `"Performance:"`} {
		assert.Contains(t, p, prefix)
	}
	assert.Contains(t, p, `"score": number`)
	assert.True(t, strings.HasSuffix(p, "Return a single JSON object only."))
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	a := BuildPrompt("t", "d", "c")
	b := BuildPrompt("t", "d", "c")
	assert.Equal(t, a, b)
	assert.Less(t, strings.Index(a, "Task Title"), strings.Index(a, "Task Description"))
	assert.Less(t, strings.Index(a, "Task Description"), strings.Index(a, "Code:"))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		reason  string
	}{
		{"array payload", `[1,2]`, "payload is not an object"},
		{"missing score", `{"strengths":[],"improvements":[]}`, "score must be a number"},
		{"string score", `{"score":"90","strengths":[],"improvements":[]}`, "score must be a number"},
		{"strengths not array", `{"score":1,"strengths":"good","improvements":[]}`, "strengths must be an array"},
		{"missing improvements", `{"score":1,"strengths":[]}`, "improvements must be an array"},
		{"null improvements", `{"score":1,"strengths":[],"improvements":null}`, "improvements must be an array"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v any
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &v))
			_, err := Validate(v)
			var shape *ShapeError
			require.ErrorAs(t, err, &shape)
			assert.Equal(t, tc.reason, shape.Reason)
			assert.Equal(t, "model JSON shape invalid: "+tc.reason, err.Error())
		})
	}
}

func TestValidate_AcceptsOutOfRangeScoreAndNonStringItems(t *testing.T) {
	var v any
	require.NoError(t, json.Unmarshal([]byte(`{"score":150.5,"strengths":[1,{"a":true}],"improvements":[],"extra":"ignored"}`), &v))
	r, err := Validate(v)
	require.NoError(t, err)
	assert.Equal(t, 150.5, r.Score())
	assert.Equal(t, []string{"1", `{"a":true}`}, r.Strengths())
	assert.Equal(t, []string{}, r.Improvements())
}

func TestReview_AccessorsReturnCopies(t *testing.T) {
	r := NewReview(70, []string{"clear"}, []string{"Refactor: x"})
	s := r.Strengths()
	s[0] = "changed"
	assert.Equal(t, []string{"clear"}, r.Strengths())
}

func TestReview_RoundTripThroughStoredColumns(t *testing.T) {
	r := NewReview(42, []string{"readable"}, []string{"Bug Fix: off by one", "Performance: cache"})

	strengths, err := json.Marshal(r.Strengths())
	require.NoError(t, err)
	improvements, err := json.Marshal(r.Improvements())
	require.NoError(t, err)
	score := r.Score()
	s, i := string(strengths), string(improvements)

	task := domain.Task{AIScore: &score, AIStrengths: &s, AIImprovements: &i}
	ev, ok := task.Evaluation()
	require.True(t, ok)
	assert.Equal(t, r.Score(), ev.Score)
	assert.Equal(t, r.Strengths(), ev.Strengths)
	assert.Equal(t, r.Improvements(), ev.Improvements)
}

func TestReview_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(NewReview(80, nil, []string{"Refactor: a"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":80,"strengths":[],"improvements":["Refactor: a"]}`, string(b))
}

func TestClassify_OnePerBucket(t *testing.T) {
	items := []string{"Bug Fix: a", "Refactor: b", "Performance: c", "Style: d"}
	b := Classify(items)
	assert.Equal(t, []string{"Bug Fix: a"}, b.BugFixes)
	assert.Equal(t, []string{"Refactor: b"}, b.Refactors)
	assert.Equal(t, []string{"Performance: c"}, b.Performance)
	assert.Equal(t, []string{"Style: d"}, b.Other)
	assert.Equal(t, len(items), b.Len())
}

func TestClassify_CaseInsensitivePrefix(t *testing.T) {
	b := Classify([]string{"BUG FIX: a", "refactoring the loop", "performance: x", " Bug Fix: leading space"})
	assert.Equal(t, []string{"BUG FIX: a"}, b.BugFixes)
	assert.Equal(t, []string{"refactoring the loop"}, b.Refactors)
	assert.Equal(t, []string{"performance: x"}, b.Performance)
	assert.Equal(t, []string{" Bug Fix: leading space"}, b.Other)
}

func TestClassify_PreservesOrderAndEmptyBuckets(t *testing.T) {
	b := Classify([]string{"Refactor: 2", "Refactor: 1"})
	assert.Equal(t, []string{"Refactor: 2", "Refactor: 1"}, b.Get(CategoryRefactor))
	assert.NotNil(t, b.BugFixes)
	assert.Empty(t, b.Get(CategoryBugFix))
	assert.Equal(t, 0, Classify(nil).Len())
}

func TestCategoryTitle(t *testing.T) {
	assert.Equal(t, "Bug Fixes", CategoryBugFix.Title())
	assert.Equal(t, "Other Suggestions", CategoryOther.Title())
}

func TestSplitCodeFence(t *testing.T) {
	code := func(s string) *string { return &s }
	cases := []struct {
		name string
		item string
		want FencedItem
	}{
		{
			name: "plain text",
			item: "Refactor: rename x",
			want: FencedItem{Before: "Refactor: rename x"},
		},
		{
			name: "tagged block",
			item: "Bug Fix: guard nil\n```go\nif x == nil { return }\n```\nThen retry.",
			want: FencedItem{Before: "Bug Fix: guard nil", Code: code("if x == nil { return }"), After: "Then retry."},
		},
		{
			name: "untagged block",
			item: "Refactor:\n```\nx := 1\n```",
			want: FencedItem{Before: "Refactor:", Code: code("x := 1")},
		},
		{
			name: "unclosed fence",
			item: "Refactor: ```go x := 1",
			want: FencedItem{Before: "Refactor: ```go x := 1"},
		},
		{
			name: "bare word block",
			item: "see ```go``` here",
			want: FencedItem{Before: "see ```go``` here"},
		},
		{
			name: "leading letters are treated as a tag",
			item: "```fmt.Println(x)```",
			want: FencedItem{Code: code(".Println(x)")},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitCodeFence(tc.item))
		})
	}
}
