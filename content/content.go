// Package content normalizes raw text for embedding and computes the
// change-detection hash used to decide whether an item needs re-indexing.
package content

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinLength is the shortest processed text worth embedding.
	MinLength = 10

	// MaxLength caps processed text to respect embedding-model context
	// limits.
	MaxLength = 2000
)

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\n.*?\n---\n?`)
	embedImageRe  = regexp.MustCompile(`!\[\[[^\]]*\]\]|!\[[^\]]*\]\([^)]*\)`)
	aliasLinkRe   = regexp.MustCompile(`\[\[([^\]|]+)\|([^\]]+)\]\]`)
	plainLinkRe   = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize prepares raw text for embedding. It strips a leading front
// matter block and embedded-image markup, resolves cross-references to
// their display text, collapses whitespace and truncates to MaxLength.
//
// The second return value is false when the remaining text is too short
// to carry any meaning.
func Normalize(raw string) (string, bool) {
	s := frontMatterRe.ReplaceAllString(raw, "")
	s = embedImageRe.ReplaceAllString(s, "")
	s = aliasLinkRe.ReplaceAllString(s, "$2")
	s = plainLinkRe.ReplaceAllString(s, "$1")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) < MinLength {
		return "", false
	}
	if len(s) > MaxLength {
		s = s[:MaxLength]
	}
	return s, true
}

// Hash computes a DJB2 rolling hash over s, rendered as hex.
//
// The hash is used only for change detection. Collisions are acceptable;
// it is never used for identity or security.
func Hash(s string) string {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return fmt.Sprintf("%08x", h)
}

// References extracts cross-reference targets from raw text before
// normalization erases them. Targets shorter than three characters are
// dropped; results are lowercased and deduplicated.
func References(raw string) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(target string) {
		target = strings.ToLower(strings.TrimSpace(target))
		if len(target) <= 2 || seen[target] {
			return
		}
		seen[target] = true
		refs = append(refs, target)
	}
	for _, m := range aliasLinkRe.FindAllStringSubmatch(raw, -1) {
		add(m[1])
		add(m[2])
	}
	stripped := aliasLinkRe.ReplaceAllString(raw, "")
	for _, m := range plainLinkRe.FindAllStringSubmatch(stripped, -1) {
		add(m[1])
	}
	return refs
}

// SplitChunks splits processed text into chunks of at most maxLen
// characters, breaking at whitespace where possible. Text at or under
// maxLen comes back as a single chunk.
func SplitChunks(s string, maxLen int) []string {
	if maxLen <= 0 || len(s) <= maxLen {
		return []string{s}
	}

	var chunks []string
	for len(s) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(s[:maxLen], ' '); idx > maxLen/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
