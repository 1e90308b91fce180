package policy

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "for": {}, "in": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "with": {},

	// Generic lead words that say nothing about the subject.
	"intro": {}, "introduction": {}, "advanced": {}, "basic": {}, "basics": {},
	"beginner": {}, "beginners": {}, "intermediate": {}, "understanding": {},
	"learning": {}, "learn": {}, "getting": {}, "started": {}, "fundamentals": {},
	"overview": {}, "guide": {}, "tutorial": {}, "working": {}, "using": {},
	"how": {}, "what": {}, "is": {}, "are": {}, "part": {},
}

// Tokens normalizes a topic into lowercase alphanumeric tokens with
// stopwords removed, preserving order.
func Tokens(topic string) []string {
	fields := strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Family returns the leading token of a topic, e.g. "javascript" for
// "JavaScript Async/Await".
func Family(topic string) string {
	tokens := Tokens(topic)
	if len(tokens) == 0 {
		return strings.ToLower(strings.TrimSpace(topic))
	}
	return tokens[0]
}

// Related reports whether two topics belong to the same topic family: same
// leading token, or at least half of their tokens shared.
func Related(a, b string) bool {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	if ta[0] == tb[0] {
		return true
	}
	return jaccard(ta, tb) >= 0.5
}

// Same reports whether two topics are the same subject up to case, word
// order, punctuation and stopwords.
func Same(a, b string) bool {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return jaccard(ta, tb) == 1
}

func jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	shared := 0
	for _, v := range set {
		if v == 3 {
			shared++
		}
	}
	return float64(shared) / float64(len(set))
}
