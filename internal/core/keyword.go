package core

import (
	"regexp"
	"strings"
)

// MatchKeywords evaluates a single keyword rule against a text span and
// returns the matched keywords in rule order, duplicates removed. An empty
// keyword list yields no matches for any mode.
func MatchKeywords(text string, rule KeywordRule) []string {
	if len(rule.Keywords) == 0 {
		return nil
	}

	searchText := text
	keywords := rule.Keywords
	if !rule.CaseSensitive {
		searchText = strings.ToLower(text)
		keywords = make([]string, len(rule.Keywords))
		for i, k := range rule.Keywords {
			keywords[i] = strings.ToLower(k)
		}
	}

	switch rule.MatchType {
	case MatchAny:
		var matched []string
		for _, k := range keywords {
			if containsKeyword(searchText, k, rule.WholeWords) {
				matched = append(matched, k)
			}
		}
		return dedupeKeywords(matched)

	case MatchAll:
		for _, k := range keywords {
			if !containsKeyword(searchText, k, rule.WholeWords) {
				return nil
			}
		}
		return dedupeKeywords(keywords)

	case MatchSequence:
		return matchSequence(searchText, keywords, rule.WholeWords)

	default:
		return nil
	}
}

// MatchKeywordRules runs several keyword rules over one text and merges the
// matched keywords, duplicates removed.
func MatchKeywordRules(text string, rules []KeywordRule) []string {
	var all []string
	for _, rule := range rules {
		all = append(all, MatchKeywords(text, rule)...)
	}
	return dedupeKeywords(all)
}

func containsKeyword(text, keyword string, wholeWords bool) bool {
	if wholeWords {
		return wordBoundaryIndex(text, keyword, 0) >= 0
	}
	return strings.Contains(text, keyword)
}

// matchSequence performs a strict, non-backtracking left-to-right scan:
// each keyword must be found at or after the position where the previous
// match ended. Any miss fails the whole sequence.
func matchSequence(text string, keywords []string, wholeWords bool) []string {
	cursor := 0
	found := make([]string, 0, len(keywords))

	for _, keyword := range keywords {
		var idx int
		if wholeWords {
			idx = wordBoundaryIndex(text, keyword, cursor)
		} else {
			idx = strings.Index(text[cursor:], keyword)
			if idx >= 0 {
				idx += cursor
			}
		}
		if idx < cursor {
			return nil
		}
		found = append(found, keyword)
		cursor = idx + len(keyword)
	}

	return dedupeKeywords(found)
}

// wordBoundaryIndex returns the byte offset of the first whole-word
// occurrence of keyword at or after the given offset, or -1.
func wordBoundaryIndex(text, keyword string, from int) int {
	if from > len(text) {
		return -1
	}
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
	if err != nil {
		return -1
	}
	loc := re.FindStringIndex(text[from:])
	if loc == nil {
		return -1
	}
	return from + loc[0]
}

func dedupeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
