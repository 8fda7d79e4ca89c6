package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cibfe/cibfe/internal/domain"
)

const (
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// chat types for OpenAI API
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string, temp float32) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       chatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("chat API error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Extract(ctx context.Context, content, agentID, categoryHint string) ([]domain.CandidateBelief, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(extractPrompt, categoryHint, content), 0.2)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	raw = stripFences(raw)

	var candidates []domain.CandidateBelief
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return candidates, nil
}

func (c *OpenAIClient) Similarity(ctx context.Context, a, b string) (float64, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(similarityPrompt, a, b), 0)
	if err != nil {
		return 0, fmt.Errorf("similarity: %w", err)
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse similarity response %q: %w", raw, err)
	}
	return clamp01(score), nil
}

func (c *OpenAIClient) Contradicts(ctx context.Context, a, b, categoryA, categoryB string) (bool, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(contradictionPrompt, categoryA, a, categoryB, b), 0)
	if err != nil {
		return false, fmt.Errorf("contradicts: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(raw), "true"), nil
}

func (c *OpenAIClient) ExtractCategory(ctx context.Context, statement string) (string, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(categoryPrompt, statement), 0)
	if err != nil {
		return "", fmt.Errorf("extract category: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(raw)), nil
}

func (c *OpenAIClient) Rescore(ctx context.Context, content, statement, context_ string) (float64, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(rescorePrompt, content, context_, statement), 0)
	if err != nil {
		return 0, fmt.Errorf("rescore: %w", err)
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parse rescore response %q: %w", raw, err)
	}
	return clamp01(score), nil
}

// MergeStatements implements the optional merge capability.
func (c *OpenAIClient) MergeStatements(ctx context.Context, a, b string) (string, error) {
	raw, err := c.complete(ctx, fmt.Sprintf(mergePrompt, a, b), 0.2)
	if err != nil {
		return "", fmt.Errorf("merge: %w", err)
	}
	return raw, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
