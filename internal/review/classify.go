package review

import "strings"

// Category is the kind of an improvement item, derived from its prefix.
type Category string

const (
	CategoryBugFix      Category = "bug_fix"
	CategoryRefactor    Category = "refactor"
	CategoryPerformance Category = "performance"
	CategoryOther       Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryBugFix, CategoryRefactor, CategoryPerformance, CategoryOther}

var categoryPrefixes = []struct {
	prefix   string
	category Category
}{
	{"bug fix", CategoryBugFix},
	{"refactor", CategoryRefactor},
	{"performance", CategoryPerformance},
}

// Title is the heading used when rendering a category.
func (c Category) Title() string {
	switch c {
	case CategoryBugFix:
		return "Bug Fixes"
	case CategoryRefactor:
		return "Refactors"
	case CategoryPerformance:
		return "Performance"
	default:
		return "Other Suggestions"
	}
}

// Categorize matches the item's prefix case-insensitively against
// "bug fix", "refactor" and "performance", in that order. First match wins;
// anything else is CategoryOther.
func Categorize(item string) Category {
	lower := strings.ToLower(item)
	for _, p := range categoryPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.category
		}
	}
	return CategoryOther
}

// Buckets is an order-preserving partition of improvement items.
type Buckets struct {
	BugFixes    []string `json:"bug_fixes"`
	Refactors   []string `json:"refactors"`
	Performance []string `json:"performance"`
	Other       []string `json:"other"`
}

// Classify partitions items by Categorize. Every item lands in exactly one
// bucket, verbatim, in input order.
func Classify(items []string) Buckets {
	b := Buckets{
		BugFixes:    []string{},
		Refactors:   []string{},
		Performance: []string{},
		Other:       []string{},
	}
	for _, item := range items {
		switch Categorize(item) {
		case CategoryBugFix:
			b.BugFixes = append(b.BugFixes, item)
		case CategoryRefactor:
			b.Refactors = append(b.Refactors, item)
		case CategoryPerformance:
			b.Performance = append(b.Performance, item)
		default:
			b.Other = append(b.Other, item)
		}
	}
	return b
}

// Get returns the bucket for c.
func (b Buckets) Get(c Category) []string {
	switch c {
	case CategoryBugFix:
		return b.BugFixes
	case CategoryRefactor:
		return b.Refactors
	case CategoryPerformance:
		return b.Performance
	default:
		return b.Other
	}
}

// Len is the total number of items across all buckets.
func (b Buckets) Len() int {
	return len(b.BugFixes) + len(b.Refactors) + len(b.Performance) + len(b.Other)
}
