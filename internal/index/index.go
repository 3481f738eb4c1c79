// Package index implements the per-channel keyword matching engine.
package index

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"highlight_bot/internal/model"
)

var (
	mentionRE         = regexp.MustCompile(`<@!?(\d+)>`)
	nicknameMentionRE = regexp.MustCompile(`<@!(\d+)>`)
)

// NormalizeMentions rewrites nickname mention tokens <@!id> to the canonical
// user mention form <@id>, so both forms match consistently.
func NormalizeMentions(s string) string {
	return nicknameMentionRE.ReplaceAllString(s, "<@$1>")
}

// MentionID returns the target ID of the first mention token in s, or "".
func MentionID(s string) string {
	m := mentionRE.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsMention reports whether s contains a mention token.
func IsMention(s string) bool {
	return mentionRE.MatchString(s)
}

// Subscriber is one user subscribed to a keyword, carrying the casing they
// registered it with.
type Subscriber struct {
	UserID  string
	Keyword string
}

// Match is a single occurrence of a registered keyword in a message.
type Match struct {
	Start       int    // byte offset of the keyword in the searched text
	End         int    // byte offset past the keyword
	Keyword     string // lowercase form of the matched keyword
	Mention     string // full mention token around the match, if the match sits inside one
	Subscribers []Subscriber
}

// Index is a compiled matcher for one channel's registered keywords.
// An Index is immutable once built; the registry replaces it wholesale.
type Index struct {
	subscribers map[string][]Subscriber
	re          *regexp.Regexp
}

// Build compiles an Index from a guild's registrations. Keywords are grouped
// case-insensitively; each subscriber keeps their preferred casing.
func Build(highlights []model.Highlight) *Index {
	subscribers := make(map[string][]Subscriber)
	for _, h := range highlights {
		keyword := strings.ToLower(NormalizeMentions(h.Keyword))
		subscribers[keyword] = append(subscribers[keyword], Subscriber{
			UserID:  h.UserID,
			Keyword: NormalizeMentions(h.Keyword),
		})
	}

	keywords := make([]string, 0, len(subscribers))
	for k := range subscribers {
		sort.Slice(subscribers[k], func(i, j int) bool {
			a, b := subscribers[k][i], subscribers[k][j]
			if a.UserID != b.UserID {
				return a.UserID < b.UserID
			}
			return a.Keyword < b.Keyword
		})
		keywords = append(keywords, k)
	}
	if len(keywords) == 0 {
		return &Index{subscribers: subscribers}
	}

	// Longest-first so that a keyword which extends another ("category" vs
	// "cat") wins the alternation at the same position.
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})

	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}

	return &Index{
		subscribers: subscribers,
		re:          regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`),
	}
}

// Empty reports whether the index has no keywords.
func (ix *Index) Empty() bool {
	return len(ix.subscribers) == 0
}

// Search finds registered keywords in text. Matching is case-insensitive and
// word-bounded: a plain keyword must not be preceded or followed by a letter,
// digit, or underscore. A match inside a mention token is still reported,
// with the surrounding token attached, so the caller can enforce mention
// parity. The caller should normalize mentions in text first.
//
// Word boundaries are verified here rather than with \b in the pattern
// because RE2's \b only understands ASCII word characters.
func (ix *Index) Search(text string) []Match {
	if ix.re == nil {
		return nil
	}

	var matches []Match
	for _, span := range ix.re.FindAllStringIndex(text, -1) {
		start, end := span[0], span[1]
		keyword := strings.ToLower(text[start:end])
		subs, ok := ix.subscribers[keyword]
		if !ok {
			continue
		}

		mention := mentionAround(text, start, end)
		if mention == "" && !wordBounded(text, start, end) {
			continue
		}

		matches = append(matches, Match{
			Start:       start,
			End:         end,
			Keyword:     keyword,
			Mention:     mention,
			Subscribers: subs,
		})
	}
	return matches
}

// SameKeywords reports whether two indexes were built from identical
// keyword-to-subscriber sets. The registry uses this to share a compiled
// matcher across channels of one guild.
func (ix *Index) SameKeywords(other *Index) bool {
	if len(ix.subscribers) != len(other.subscribers) {
		return false
	}
	for k, subs := range ix.subscribers {
		otherSubs, ok := other.subscribers[k]
		if !ok || len(subs) != len(otherSubs) {
			return false
		}
		for i := range subs {
			if subs[i] != otherSubs[i] {
				return false
			}
		}
	}
	return true
}

func wordBounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mentionAround returns the full mention token containing [start, end),
// or "" when the match is not part of one. A numeric keyword matching the ID
// inside someone's mention is the interesting case; the peek covers the
// token's "<@" prefix and ">" suffix.
func mentionAround(text string, start, end int) string {
	lo := start - len("<@")
	if lo < 0 {
		lo = 0
	}
	hi := end + len(">")
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]
	span := mentionRE.FindStringIndex(window)
	if span == nil {
		return ""
	}
	// The token must cover the whole match, not merely appear nearby.
	if lo+span[0] > start || lo+span[1] < end {
		return ""
	}
	return window[span[0]:span[1]]
}
