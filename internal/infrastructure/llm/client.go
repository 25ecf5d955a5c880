// Package llm OpenAI 兼容 Chat API 的生成式能力实现
// 实现 oracle.Oracle 边界；提示词与解析集中在本包，核心工作流不感知
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thinkinglens/backend/internal/domain/oracle"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// Client LLM Chat 客户端
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	classifierModel string
	httpClient      *http.Client
	logger          *slog.Logger
}

// ChatRequest Chat API 请求
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Message Chat 消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse Chat API 响应
type ChatResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient 创建 LLM 客户端
func NewClient(cfg *config.Config) *Client {
	baseURL := strings.TrimSuffix(cfg.Oracle.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	classifier := cfg.Oracle.ClassifierModel
	if classifier == "" {
		classifier = cfg.Oracle.Model
	}

	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.Oracle.APIKey,
		model:           cfg.Oracle.Model,
		classifierModel: classifier,
		httpClient: &http.Client{
			Timeout: cfg.Oracle.Timeout,
		},
		logger: log.NewModuleLogger("llm", "client"),
	}
}

// chat 发送一次 Chat 请求并返回首个回复文本
// 传输层故障与 429/5xx 映射为 oracle.ErrUnavailable，可由调用方重试
func (c *Client) chat(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	jsonData, err := json.Marshal(ChatRequest{
		Messages:    messages,
		Model:       model,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w: %w", oracle.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("Chat API returned error",
			"status_code", resp.StatusCode,
			"model", model,
		)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("chat API status %d: %w", resp.StatusCode, oracle.ErrUnavailable)
		}
		return "", fmt.Errorf("chat API status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", oracle.ErrMalformedOutput)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices: %w", oracle.ErrMalformedOutput)
	}

	c.logger.Debug("Chat completed",
		"model", model,
		"tokens", chatResp.Usage.TotalTokens,
	)
	return chatResp.Choices[0].Message.Content, nil
}

// decodeInto 解析模型输出的 JSON（容忍代码围栏与前后杂文本）
func decodeInto(content string, v any) error {
	cleaned := stripFences(content)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parsing model output: %w", oracle.ErrMalformedOutput)
	}
	return nil
}

// stripFences 去掉 markdown 代码围栏并裁剪到最外层大括号
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

// NormalizeIdea 实现 oracle.Oracle
func (c *Client) NormalizeIdea(ctx context.Context, rawIdea string) (*oracle.NormalizeResult, error) {
	content, err := c.chat(ctx, c.model, []Message{
		{Role: "system", Content: normalizeSystemPrompt},
		{Role: "user", Content: rawIdea},
	}, 0.2)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		NeedsClarification bool   `json:"needs_clarification"`
		Questions          string `json:"questions"`
		NormalizedIdea     string `json:"normalized_idea"`
	}
	if err := decodeInto(content, &parsed); err != nil {
		return nil, err
	}
	return &oracle.NormalizeResult{
		NeedsClarification: parsed.NeedsClarification,
		Questions:          parsed.Questions,
		NormalizedIdea:     parsed.NormalizedIdea,
	}, nil
}

// GenerateQuestions 实现 oracle.Oracle
func (c *Client) GenerateQuestions(ctx context.Context, section oracle.SectionProfile, bc oracle.BoundedContext) (string, error) {
	return c.chat(ctx, c.model, []Message{
		{Role: "system", Content: questionsSystemPrompt},
		{Role: "user", Content: buildQuestionsPrompt(section, bc)},
	}, 0.7)
}

// ClassifyIntent 实现 oracle.Oracle
// 分类走轻量模型与最小上下文，固定词表由工作流引擎校验
func (c *Client) ClassifyIntent(ctx context.Context, userMessage, currentSection, progress string) (*oracle.Classification, error) {
	content, err := c.chat(ctx, c.classifierModel, []Message{
		{Role: "system", Content: classifySystemPrompt},
		{Role: "user", Content: buildClassifyPrompt(userMessage, currentSection, progress)},
	}, 0)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Intent        string  `json:"intent"`
		TargetSection string  `json:"target_section"`
		Confidence    float64 `json:"confidence"`
	}
	if err := decodeInto(content, &parsed); err != nil {
		return nil, err
	}
	return &oracle.Classification{
		Intent:        parsed.Intent,
		TargetSection: parsed.TargetSection,
		Confidence:    parsed.Confidence,
	}, nil
}

// UpdateSection 实现 oracle.Oracle
func (c *Client) UpdateSection(ctx context.Context, section oracle.SectionProfile, userInput string, bc oracle.BoundedContext) (*oracle.UpdateResult, error) {
	content, err := c.chat(ctx, c.model, []Message{
		{Role: "system", Content: updateSystemPrompt},
		{Role: "user", Content: buildUpdatePrompt(section, userInput, bc)},
	}, 0.3)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		UpdatedContent string  `json:"updated_content"`
		Score          float64 `json:"score"`
		NextQuestions  string  `json:"next_questions"`
	}
	if err := decodeInto(content, &parsed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.UpdatedContent) == "" {
		return nil, fmt.Errorf("empty updated_content: %w", oracle.ErrMalformedOutput)
	}
	return &oracle.UpdateResult{
		UpdatedContent: parsed.UpdatedContent,
		Score:          parsed.Score,
		NextQuestions:  parsed.NextQuestions,
	}, nil
}

// Summarize 实现 oracle.Oracle
func (c *Client) Summarize(ctx context.Context, existingSummary string, evicted []string, budgetTokens int) (string, error) {
	return c.chat(ctx, c.model, []Message{
		{Role: "system", Content: summarizeSystemPrompt},
		{Role: "user", Content: buildSummarizePrompt(existingSummary, evicted, budgetTokens)},
	}, 0.2)
}

// Refine 实现 oracle.Oracle
func (c *Client) Refine(ctx context.Context, draft string) (string, error) {
	refined, err := c.chat(ctx, c.model, []Message{
		{Role: "system", Content: refineSystemPrompt},
		{Role: "user", Content: draft},
	}, 0.3)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(refined) == "" {
		return "", fmt.Errorf("empty refined draft: %w", oracle.ErrMalformedOutput)
	}
	return refined, nil
}

// DescribeDiagram 实现 oracle.Oracle
func (c *Client) DescribeDiagram(ctx context.Context, draft, kind string) (string, error) {
	content, err := c.chat(ctx, c.model, []Message{
		{Role: "system", Content: diagramSystemPrompt},
		{Role: "user", Content: buildDiagramPrompt(draft, kind)},
	}, 0.3)
	if err != nil {
		return "", err
	}
	return stripMermaidFences(content), nil
}

// Answer 实现 oracle.Oracle
func (c *Client) Answer(ctx context.Context, question string, bc oracle.BoundedContext) (string, error) {
	return c.chat(ctx, c.model, []Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: buildAnswerPrompt(question, bc)},
	}, 0.5)
}

// stripMermaidFences 去掉 mermaid 代码围栏，只留图表文本
func stripMermaidFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```mermaid")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// 确认接口实现
var _ oracle.Oracle = (*Client)(nil)
