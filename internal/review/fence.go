package review

import "strings"

// FencedItem is an improvement item split around its first code block.
type FencedItem struct {
	Before string  `json:"before"`
	Code   *string `json:"code,omitempty"`
	After  string  `json:"after,omitempty"`
}

// SplitCodeFence separates one improvement item into the prose before its
// first fenced block, the block's code, and the prose after it. Without a
// closing fence, or with an empty block, the whole item is plain text. A
// leading alphabetic language tag inside the block is dropped.
func SplitCodeFence(item string) FencedItem {
	plain := FencedItem{Before: item}
	first := strings.Index(item, fence)
	if first == -1 {
		return plain
	}
	rest := item[first+len(fence):]
	second := strings.Index(rest, fence)
	if second == -1 {
		return plain
	}
	inside := rest[:second]
	if tagEnd := strings.IndexFunc(inside, func(r rune) bool { return !isTagRune(r) }); tagEnd > 0 {
		inside = strings.TrimLeft(inside[tagEnd:], " \t\r\n")
	} else if tagEnd == -1 {
		// The block is a bare word.
		inside = ""
	}
	code := strings.TrimSpace(inside)
	if code == "" {
		return plain
	}
	return FencedItem{
		Before: strings.TrimSpace(item[:first]),
		Code:   &code,
		After:  strings.TrimSpace(rest[second+len(fence):]),
	}
}
