package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/huangang/claimwatch/pkg/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/models"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

var (
	jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)
	fencedJSONRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

const classifyPrompt = `You are triaging an open-source issue assignment. Read the assignee's recent
comments and commit messages below and judge what kind of work they are doing.

Answer with a single JSON object and nothing else:
{"work_type": "<coding|research|planning|testing|documentation|unknown>",
 "is_blocked": <true|false>,
 "confidence": <number between 0 and 1>,
 "reasoning": "<one short sentence>"}

"is_blocked" is true only when the assignee says they are waiting on someone or something
outside their control.

Recent activity:
%s`

// LLMCompleter sends one prompt to one configured model.
type LLMCompleter func(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error)

// LLMClassifier asks the configured language models for a Judgment, trying
// each active llm_configs row in turn.
type LLMClassifier struct {
	db       *gorm.DB
	config   *config.OpenAIConfig
	complete LLMCompleter
}

func NewLLMClassifier(db *gorm.DB, cfg *config.OpenAIConfig) *LLMClassifier {
	c := &LLMClassifier{db: db, config: cfg}
	c.complete = c.callLLM
	return c
}

// WithCompleter replaces the provider dispatch, used by tests.
func (c *LLMClassifier) WithCompleter(fn LLMCompleter) *LLMClassifier {
	c.complete = fn
	return c
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) (Judgment, error) {
	prompt := fmt.Sprintf(classifyPrompt, text)

	llmConfigs := c.getOrderedLLMConfigs()
	if len(llmConfigs) == 0 {
		return Judgment{}, fmt.Errorf("no LLM configuration available")
	}

	var lastErr error
	for i, llmConfig := range llmConfigs {
		logger.Debugf("[AI] Attempting LLM %d/%d: %s (model: %s)", i+1, len(llmConfigs), llmConfig.Name, llmConfig.Model)

		content, err := c.complete(ctx, &llmConfig, prompt)
		if err == nil {
			j, perr := parseJudgment(content)
			if perr == nil {
				logger.Debugf("[AI] Classified with LLM %s: %s blocked=%v confidence=%.2f",
					llmConfig.Name, j.WorkType, j.IsBlocked, j.Confidence)
				return j, nil
			}
			err = perr
		}

		lastErr = err
		logger.Infof("[AI] LLM %s failed: %v, trying next...", llmConfig.Name, err)
		if ctx.Err() != nil {
			break
		}
	}

	return Judgment{}, fmt.Errorf("all LLMs failed, last error: %w", lastErr)
}

// ClassifyWith asks one specific model, without fallback.
func (c *LLMClassifier) ClassifyWith(ctx context.Context, llmConfig *models.LLMConfig, text string) (Judgment, error) {
	content, err := c.complete(ctx, llmConfig, fmt.Sprintf(classifyPrompt, text))
	if err != nil {
		return Judgment{}, err
	}
	return parseJudgment(content)
}

func (c *LLMClassifier) getOrderedLLMConfigs() []models.LLMConfig {
	var configs []models.LLMConfig

	if c.db != nil {
		var defaultConfig models.LLMConfig
		if err := c.db.Where("is_default = ? AND is_active = ?", true, true).First(&defaultConfig).Error; err == nil {
			configs = append(configs, defaultConfig)
		}

		var backupConfigs []models.LLMConfig
		c.db.Where("is_active = ?", true).Order("id ASC").Find(&backupConfigs)
		for _, cfg := range backupConfigs {
			if len(configs) > 0 && configs[0].ID == cfg.ID {
				continue
			}
			configs = append(configs, cfg)
		}
	}

	if len(configs) == 0 && c.config != nil && c.config.APIKey != "" {
		configs = append(configs, models.LLMConfig{
			Name:    "fallback",
			BaseURL: c.config.BaseURL,
			APIKey:  c.config.APIKey,
			Model:   c.config.Model,
		})
	}

	return configs
}

type rawJudgment struct {
	WorkType   string      `json:"work_type"`
	IsBlocked  interface{} `json:"is_blocked"`
	Confidence interface{} `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// parseJudgment accepts bare JSON, JSON inside a markdown fence, or JSON
// surrounded by prose; booleans and numbers may arrive as strings.
func parseJudgment(content string) (Judgment, error) {
	candidate := strings.TrimSpace(content)
	if m := fencedJSONRegex.FindStringSubmatch(candidate); len(m) == 2 {
		candidate = m[1]
	} else if m := jsonObjectRegex.FindString(candidate); m != "" {
		candidate = m
	}

	var raw rawJudgment
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return Judgment{}, fmt.Errorf("unparseable classifier answer: %w", err)
	}
	if raw.WorkType == "" {
		return Judgment{}, fmt.Errorf("classifier answer missing work_type")
	}

	j := Judgment{
		WorkType:  models.ParseWorkType(strings.ToLower(strings.TrimSpace(raw.WorkType))),
		IsBlocked: looseBool(raw.IsBlocked),
		Reasoning: strings.TrimSpace(raw.Reasoning),
	}
	j.Confidence = looseFloat(raw.Confidence)
	if j.Confidence > 1 && j.Confidence <= 100 {
		j.Confidence /= 100
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		j.Confidence = 0
	}
	return j, nil
}

func looseBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(strings.TrimSpace(b))
		return parsed
	}
	return false
}

func looseFloat(v interface{}) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

// callLLM dispatches to the appropriate provider-specific function based on Provider field
func (c *LLMClassifier) callLLM(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	switch llmConfig.Provider {
	case "anthropic":
		return c.callAnthropic(ctx, llmConfig, prompt)
	case "ollama":
		return c.callOllama(ctx, llmConfig, prompt)
	case "gemini":
		return c.callGemini(ctx, llmConfig, prompt)
	case "azure":
		return c.callAzure(ctx, llmConfig, prompt)
	default:
		// openai and other OpenAI-compatible services
		return c.callOpenAI(ctx, llmConfig, prompt)
	}
}

// callOpenAI handles OpenAI and OpenAI-compatible APIs (including custom endpoints)
func (c *LLMClassifier) callOpenAI(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	clientConfig := openai.DefaultConfig(llmConfig.APIKey)
	if llmConfig.BaseURL != "" {
		clientConfig.BaseURL = llmConfig.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: llmConfig.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: float32(llmConfig.Temperature),
		MaxTokens:   maxTokensOr(llmConfig, 512),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// callAnthropic handles Anthropic Claude API using the native SDK
func (c *LLMClassifier) callAnthropic(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(llmConfig.APIKey)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmConfig.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := llmConfig.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokensOr(llmConfig, 512)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

// callOllama handles Ollama API using the native SDK
func (c *LLMClassifier) callOllama(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	baseURL := llmConfig.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := llmConfig.Model
	if model == "" {
		model = "llama3"
	}

	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Format: json.RawMessage(`"json"`),
		Options: map[string]interface{}{
			"temperature": llmConfig.Temperature,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

// callGemini handles Google Gemini API using the native SDK
func (c *LLMClassifier) callGemini(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: llmConfig.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}

	model := llmConfig.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}

// callAzure handles Azure OpenAI API; Model is the deployment name
func (c *LLMClassifier) callAzure(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (string, error) {
	azureConfig := openai.DefaultAzureConfig(llmConfig.APIKey, llmConfig.BaseURL)
	client := openai.NewClientWithConfig(azureConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: llmConfig.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(llmConfig.Temperature),
		MaxTokens:   maxTokensOr(llmConfig, 512),
	})
	if err != nil {
		return "", fmt.Errorf("Azure OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from Azure OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func maxTokensOr(llmConfig *models.LLMConfig, def int) int {
	if llmConfig.MaxTokens > 0 {
		return llmConfig.MaxTokens
	}
	return def
}
