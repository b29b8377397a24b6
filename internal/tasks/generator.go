package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrGeneration = errors.New("task generation failed")

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	temperature = 0.2
)

const systemPrompt = `You are an expert industrial inspector helper. Your job is to analyze the audio transcript of an incident
and extract a list of ACTIONABLE TASKS.

For each task, identify:
- Task Title (short summary)
- Task Description (detailed explanation)
- Severity (1=Severe, 2=Regular, 3=Low)
- Task Status is always PENDING (1) initially.
- Task Type (1=Install, 2=Repair, 3=Verify, 4=Clear). infer from context, default to Verify (3) if unsure.

Output the result as a raw JSON list of objects. Do not include markdown code blocks.
Keys: "task_title", "task_description", "severity_id", "status_id", "task_type_id", "task_original_description"

"task_original_description" should be the exact quote from transcript if possible.`

// Generator turns a transcript into remediation tasks.
type Generator interface {
	Generate(ctx context.Context, transcript string) ([]Task, error)
}

// OpenAIGenerator uses an OpenAI compatible chat completions endpoint.
type OpenAIGenerator struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewOpenAIGenerator(baseURL, apiKey, model string, logger *zap.Logger) *OpenAIGenerator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Logger:     logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, transcript string) ([]Task, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	payload, err := json.Marshal(chatRequest{
		Model: g.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Here is the transcript:\n\n" + transcript},
		},
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "inspecta/1")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrGeneration, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrGeneration)
	}

	content := stripCodeFence(out.Choices[0].Message.Content)
	tasks, err := decodeTasks(content)
	if err != nil {
		return nil, fmt.Errorf("%w: decode task list: %w", ErrGeneration, err)
	}

	g.logger().Debug("generated tasks", zap.Int("count", len(tasks)), zap.String("model", g.Model))
	return tasks, nil
}

func (g *OpenAIGenerator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// stripCodeFence removes a markdown fence the model adds despite being told
// not to.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
