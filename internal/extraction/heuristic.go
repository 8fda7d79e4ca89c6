package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/cibfe/cibfe/internal/categorizer"
	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
)

// Heuristic is a deterministic BeliefExtractionProvider. It keeps the engine
// fully functional with no API key: sentence-level statement extraction,
// lexical similarity, and a negation/copula-aware contradiction check.
type Heuristic struct {
	categorizer *categorizer.Categorizer
}

func NewHeuristic() *Heuristic {
	return &Heuristic{categorizer: categorizer.New()}
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?\n]+`)
	hedgeWords    = regexp.MustCompile(`(?i)\b(maybe|might|perhaps|possibly|probably|guess)\b`)
	negationWords = regexp.MustCompile(`(?i)\b(not|never|no longer|don't|doesn't|didn't|isn't|aren't|wasn't|won't|cannot|can't)\b`)
	copulaPattern = regexp.MustCompile(`(?i)^(.+?)\s+(is|are|was|were)\s+(.+)$`)
)

func (h *Heuristic) Extract(ctx context.Context, content, agentID, categoryHint string) ([]domain.CandidateBelief, error) {
	var candidates []domain.CandidateBelief
	for _, raw := range sentenceSplit.Split(content, -1) {
		sentence := strings.TrimSpace(raw)
		tokens := similarity.Tokenize(sentence)
		if len(tokens) < 2 {
			continue
		}

		label, _ := h.categorizer.Categorize(ctx, sentence, nil)
		category := label.Primary
		if categoryHint != "" && category == categorizer.CategoryGeneral {
			category = categoryHint
		}

		confidence := 0.7
		if hedgeWords.MatchString(sentence) {
			confidence = 0.4
		} else if strings.HasPrefix(strings.ToLower(sentence), "i ") ||
			strings.HasPrefix(strings.ToLower(sentence), "my ") {
			confidence = 0.8
		}

		tags := tokens
		if len(tags) > 5 {
			tags = tags[:5]
		}

		candidates = append(candidates, domain.CandidateBelief{
			Statement:    sentence,
			Category:     category,
			Tags:         tags,
			Confidence:   confidence,
			EvidenceSpan: sentence,
		})
	}
	return candidates, nil
}

func (h *Heuristic) Similarity(ctx context.Context, a, b string) (float64, error) {
	j := similarity.Jaccard(a, b)
	d := similarity.TrigramDice(a, b)
	if d > j {
		j = d
	}
	return j, nil
}

// Contradicts detects two lexical contradiction shapes: a negated restatement
// ("X" vs "not X") and a copula value flip ("the capital of X is Foo" vs
// "the capital of X is Bar").
func (h *Heuristic) Contradicts(ctx context.Context, a, b, categoryA, categoryB string) (bool, error) {
	negA, negB := negationWords.MatchString(a), negationWords.MatchString(b)
	if negA != negB {
		stripped := negationWords.ReplaceAllString(a, "")
		strippedB := negationWords.ReplaceAllString(b, "")
		if similarity.Jaccard(stripped, strippedB) >= 0.5 {
			return true, nil
		}
	}

	ma := copulaPattern.FindStringSubmatch(domain.NormalizeStatement(a))
	mb := copulaPattern.FindStringSubmatch(domain.NormalizeStatement(b))
	if ma != nil && mb != nil {
		subjectA := strings.TrimSpace(ma[1])
		subjectB := strings.TrimSpace(mb[1])
		objectA := strings.TrimSpace(ma[3])
		objectB := strings.TrimSpace(mb[3])
		if subjectA == subjectB && objectA != objectB &&
			similarity.Jaccard(objectA, objectB) < 0.5 {
			return true, nil
		}
	}
	return false, nil
}

func (h *Heuristic) ExtractCategory(ctx context.Context, statement string) (string, error) {
	label, err := h.categorizer.Categorize(ctx, statement, nil)
	if err != nil {
		return categorizer.CategoryGeneral, nil
	}
	return label.Primary, nil
}

// Rescore grades a statement by how much of it is covered by the content.
func (h *Heuristic) Rescore(ctx context.Context, content, statement, context_ string) (float64, error) {
	score := similarity.Jaccard(content+" "+context_, statement)
	if score > 0.95 {
		score = 0.95
	}
	return score, nil
}

// MergeStatements implements the optional merge capability by joining the
// statements, preferring the newer one first.
func (h *Heuristic) MergeStatements(ctx context.Context, a, b string) (string, error) {
	if domain.NormalizeStatement(a) == domain.NormalizeStatement(b) {
		return a, nil
	}
	return b + "; previously: " + a, nil
}
