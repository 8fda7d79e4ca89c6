// Package categorizer implements deterministic, rule-based content
// classification with tag extraction. It is the offline/default Categorizer;
// provider-backed implementations satisfy the same interface.
package categorizer

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
)

const (
	CategoryPreference = "preference"
	CategoryFact       = "fact"
	CategoryDecision   = "decision"
	CategoryConstraint = "constraint"
	CategoryGeneral    = "general"
)

var categoryKeywords = map[string][]string{
	CategoryPreference: {"love", "like", "prefer", "favorite", "favourite", "enjoy", "hate", "dislike", "wish", "want"},
	CategoryDecision:   {"decided", "decide", "choose", "chose", "going", "plan", "agreed", "selected", "picked"},
	CategoryConstraint: {"must", "cannot", "can't", "never", "always", "require", "required", "forbidden", "limit", "only"},
	CategoryFact:       {"is", "are", "was", "were", "has", "have", "located", "capital", "born", "costs", "means"},
}

// Keyword weights: preference/decision/constraint cues are stronger signals
// than the copular verbs backing "fact".
var categoryWeights = map[string]float64{
	CategoryPreference: 0.30,
	CategoryDecision:   0.28,
	CategoryConstraint: 0.28,
	CategoryFact:       0.15,
}

var tagPatterns = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"url", regexp.MustCompile(`https?://[^\s]+`)},
	{"phone", regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)},
	{"date", regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}|\d{1,2}\s*(am|pm)|today|tomorrow|yesterday)\b`)},
	{"number", regexp.MustCompile(`\b\d+(\.\d+)?\b`)},
}

type Categorizer struct {
	mu      sync.RWMutex
	learned map[string]domain.CategoryLabel
}

var _ domain.Categorizer = (*Categorizer)(nil)

func New() *Categorizer {
	return &Categorizer{learned: make(map[string]domain.CategoryLabel)}
}

func (c *Categorizer) Categorize(ctx context.Context, text string, meta map[string]string) (domain.CategoryLabel, error) {
	if strings.TrimSpace(text) == "" {
		return domain.CategoryLabel{Primary: CategoryGeneral}, nil
	}

	// Corrections recorded via Feedback win over the rules.
	c.mu.RLock()
	if label, ok := c.learned[domain.NormalizeStatement(text)]; ok {
		c.mu.RUnlock()
		return label, nil
	}
	c.mu.RUnlock()

	ranked := rank(text)
	label := ranked[0]
	if len(ranked) > 1 && ranked[1].Confidence > 0 {
		label.Secondary = ranked[1].Primary
	}
	label.Tags = extractTags(text)

	// Caller-supplied category hint overrides the rule result but keeps tags.
	if hint := meta["category"]; hint != "" {
		label.Secondary = label.Primary
		label.Primary = hint
		label.Confidence = 1.0
	}
	return label, nil
}

func (c *Categorizer) CategorizeBatch(ctx context.Context, texts []string) ([]domain.CategoryLabel, error) {
	labels := make([]domain.CategoryLabel, len(texts))
	for i, t := range texts {
		label, err := c.Categorize(ctx, t, nil)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}
	return labels, nil
}

func (c *Categorizer) SuggestAlternatives(ctx context.Context, text string, n int) ([]domain.CategoryLabel, error) {
	ranked := rank(text)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// Feedback records a correction keyed by normalized text; subsequent
// categorize calls for the same text return it directly.
func (c *Categorizer) Feedback(ctx context.Context, text string, correct domain.CategoryLabel) error {
	if strings.TrimSpace(text) == "" || correct.Primary == "" {
		return domain.E(domain.KindInvalidInput, "feedback requires text and a primary category")
	}
	c.mu.Lock()
	c.learned[domain.NormalizeStatement(text)] = correct
	c.mu.Unlock()
	return nil
}

// rank scores every category against the text and returns labels ordered by
// descending confidence. The general fallback is returned only when no
// category keyword matched.
func rank(text string) []domain.CategoryLabel {
	tokens := similarity.Tokenize(text)
	lower := " " + strings.ToLower(text) + " "

	var ranked []domain.CategoryLabel
	for cat, words := range categoryKeywords {
		matches := 0
		for _, w := range words {
			if containsWord(lower, w) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		conf := 0.4 + categoryWeights[cat]*float64(matches)
		if conf > 0.95 {
			conf = 0.95
		}
		ranked = append(ranked, domain.CategoryLabel{Primary: cat, Confidence: conf})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	if len(ranked) == 0 {
		conf := 0.0
		if len(tokens) > 0 {
			conf = 0.2
		}
		ranked = append(ranked, domain.CategoryLabel{Primary: CategoryGeneral, Confidence: conf})
	}
	return ranked
}

// containsWord matches w as a whole word; raw text is used rather than the
// token stream so stopword-listed cues like "is" still count.
func containsWord(paddedLower, w string) bool {
	idx := 0
	for {
		i := strings.Index(paddedLower[idx:], w)
		if i < 0 {
			return false
		}
		i += idx
		before := paddedLower[i-1]
		afterIdx := i + len(w)
		after := byte(' ')
		if afterIdx < len(paddedLower) {
			after = paddedLower[afterIdx]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return true
		}
		idx = i + len(w)
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '\''
}

func extractTags(text string) []string {
	var tags []string
	for _, p := range tagPatterns {
		if p.re.MatchString(text) {
			tags = append(tags, p.tag)
		}
	}
	return tags
}
