package memory

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from concept extraction. Short function words fall out
// of the length filter already; these are the longer ones that would
// otherwise dominate frequency counts.
var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "being": true, "between": true,
	"could": true, "should": true, "there": true, "their": true, "these": true,
	"those": true, "through": true, "under": true, "where": true, "which": true,
	"while": true, "would": true, "because": true, "before": true, "during": true,
	"every": true, "other": true, "since": true, "until": true, "using": true,
	"without": true, "please": true, "explain": true, "describe": true,
}

// ExtractConcepts returns the top-k terms longer than four characters,
// ranked by frequency then first appearance.
func ExtractConcepts(text string, k int) []string {
	if k <= 0 {
		k = 5
	}

	freq := make(map[string]int)
	first := make(map[string]int)
	pos := 0
	for _, tok := range tokenize(text) {
		if len(tok) <= 4 || stopwords[tok] {
			continue
		}
		if _, seen := freq[tok]; !seen {
			first[tok] = pos
		}
		freq[tok]++
		pos++
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})

	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
