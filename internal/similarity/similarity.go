// Package similarity provides the scoring primitives shared by the lexical
// search strategies and the belief stores. Jaccard and TrigramDice scores
// are in [0,1] and monotone in overlap; Cosine is in [-1,1].
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// stopwords excluded from keyword extraction and token scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "i": true, "in": true, "is": true, "it": true, "its": true,
	"my": true, "of": true, "on": true, "or": true, "our": true, "that": true,
	"the": true, "their": true, "this": true, "to": true, "was": true,
	"were": true, "will": true, "with": true, "you": true, "your": true,
	"really": true, "very": true, "so": true, "am": true, "do": true,
}

// Tokenize lowercases and splits on non-alphanumeric runes, dropping
// stopwords and single-rune tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ExtractKeywords returns the deduplicated token set preserving first-seen
// order, used by the text strategies to build match terms.
func ExtractKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// Jaccard scores token-set overlap between two texts.
func Jaccard(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func trigrams(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		padded := "  " + t + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = true
		}
	}
	return set
}

// TrigramDice is the Dice coefficient over padded word trigrams. The padding
// follows pg_trgm, but pg_trgm's similarity() divides the shared count by the
// union instead, so the two scores differ for the same pair.
func TrigramDice(a, b string) float64 {
	sa, sb := trigrams(a), trigrams(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(sa)+len(sb))
}

// Cosine scores two embeddings. Nil, zero-magnitude or mismatched-dimension
// vectors score 0 rather than erroring.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
