package extraction

import "github.com/cibfe/cibfe/internal/domain"

var (
	_ domain.BeliefExtractionProvider = (*OpenAIClient)(nil)
	_ domain.BeliefExtractionProvider = (*Heuristic)(nil)
	_ domain.BeliefExtractionProvider = (*MockClient)(nil)

	_ domain.StatementMerger = (*OpenAIClient)(nil)
	_ domain.StatementMerger = (*Heuristic)(nil)
	_ domain.StatementMerger = (*MockClient)(nil)
)
