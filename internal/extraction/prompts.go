package extraction

const extractPrompt = `You are a belief extraction system. Analyze the content below and distill distinct belief statements the agent should hold.

For each belief, determine:
- statement: a clear, self-contained declarative sentence
- category: a single lowercase word (e.g. "preference", "fact", "constraint")
- tags: up to 5 lowercase topic tags
- confidence: 0.0-1.0 based on how directly the content supports the statement

Respond ONLY with a JSON array. No markdown, no explanation. Example:
[{"statement":"The user prefers dark mode","category":"preference","tags":["ui"],"confidence":0.9}]

If no beliefs can be extracted, respond with an empty array: []

Category hint (may be empty): %s

Content:
%s`

const similarityPrompt = `Rate the semantic similarity of these two statements on a scale of 0.0 (unrelated) to 1.0 (same meaning).
Statement A: %s
Statement B: %s

Respond ONLY with the number.`

const contradictionPrompt = `Do these two statements contradict each other?
Statement A (%s): %s
Statement B (%s): %s

Answer only "true" or "false". No explanation.`

const categoryPrompt = `Assign a single lowercase category word to this statement (e.g. preference, fact, decision, constraint, general):
%s

Respond ONLY with the word.`

const rescorePrompt = `Given this source content and context, how confident should an agent be in the statement? 0.0 = unsupported, 1.0 = directly stated.

Content: %s
Context: %s
Statement: %s

Respond ONLY with the number.`

const mergePrompt = `Merge these two statements into one statement that preserves the information of both. If they conflict, prefer the second.
Statement A: %s
Statement B: %s

Respond ONLY with the merged statement.`
