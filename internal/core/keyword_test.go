package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchKeywordsAny(t *testing.T) {
	rule := KeywordRule{
		Keywords:  []string{"invoice", "payment", "wire"},
		MatchType: MatchAny,
	}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "subset present",
			text: "please process the payment for this invoice",
			want: []string{"invoice", "payment"},
		},
		{
			name: "none present",
			text: "see you at the meeting",
			want: nil,
		},
		{
			name: "all present",
			text: "wire the payment for invoice 42",
			want: []string{"invoice", "payment", "wire"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchKeywords(tt.text, rule)
			assert.Equal(t, tt.want, got)
			// Result is always a subset of the keyword set.
			for _, k := range got {
				assert.Contains(t, rule.Keywords, k)
			}
		})
	}
}

func TestMatchKeywordsAll(t *testing.T) {
	rule := KeywordRule{
		Keywords:  []string{"urgent", "immediate", "action required"},
		MatchType: MatchAll,
	}

	// Partial presence gives no partial credit.
	assert.Nil(t, MatchKeywords("this is urgent", rule))
	assert.Nil(t, MatchKeywords("urgent and immediate", rule))

	// Full presence returns exactly the keyword set, order-independent.
	got := MatchKeywords("action required: this urgent matter needs immediate attention", rule)
	assert.Equal(t, []string{"urgent", "immediate", "action required"}, got)
}

func TestMatchKeywordsSequence(t *testing.T) {
	rule := KeywordRule{
		Keywords:  []string{"transfer", "funds"},
		MatchType: MatchSequence,
	}

	// In-order match succeeds.
	assert.Equal(t, []string{"transfer", "funds"},
		MatchKeywords("transfer all the funds today", rule))

	// Second keyword appearing only before the first fails entirely.
	assert.Nil(t, MatchKeywords("funds were received, no transfer yet", rule))

	// Each search starts strictly after the previous match: overlapping
	// text cannot be reused.
	overlap := KeywordRule{Keywords: []string{"abcd", "cdef"}, MatchType: MatchSequence}
	assert.Nil(t, MatchKeywords("abcdef", overlap))
	assert.Equal(t, []string{"abcd", "cdef"}, MatchKeywords("abcd then cdef", overlap))
}

func TestMatchKeywordsCaseSensitivity(t *testing.T) {
	insensitive := KeywordRule{Keywords: []string{"Confidential"}, MatchType: MatchAny}
	assert.Equal(t, []string{"confidential"}, MatchKeywords("CONFIDENTIAL report", insensitive))

	sensitive := KeywordRule{Keywords: []string{"Confidential"}, MatchType: MatchAny, CaseSensitive: true}
	assert.Nil(t, MatchKeywords("confidential report", sensitive))
	assert.Equal(t, []string{"Confidential"}, MatchKeywords("Confidential report", sensitive))
}

func TestMatchKeywordsWholeWords(t *testing.T) {
	rule := KeywordRule{Keywords: []string{"ssn"}, MatchType: MatchAny, WholeWords: true}

	// Embedded inside a larger token does not count.
	assert.Nil(t, MatchKeywords("the assassin waited", rule))
	assert.Equal(t, []string{"ssn"}, MatchKeywords("enter your ssn below", rule))

	substring := KeywordRule{Keywords: []string{"ssn"}, MatchType: MatchAny}
	assert.Equal(t, []string{"ssn"}, MatchKeywords("the assassin waited", substring))
}

func TestMatchKeywordsEmptyList(t *testing.T) {
	for _, mode := range []string{MatchAny, MatchAll, MatchSequence} {
		rule := KeywordRule{MatchType: mode}
		assert.Nil(t, MatchKeywords("any text at all", rule), "mode %s", mode)
	}
}

func TestMatchKeywordRulesDeduplicates(t *testing.T) {
	rules := []KeywordRule{
		{Keywords: []string{"confidential"}, MatchType: MatchAny},
		{Keywords: []string{"confidential", "secret"}, MatchType: MatchAny},
	}
	got := MatchKeywordRules("confidential and secret", rules)
	assert.Equal(t, []string{"confidential", "secret"}, got)
}
