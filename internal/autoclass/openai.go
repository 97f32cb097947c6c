package autoclass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `Ты размечаешь тексты нормативных правовых актов РФ.
Раздели текст на отдельные нормы и для каждой нормы верни:
- "paragraph": точный текст нормы;
- "results.justification.justification_probability": вероятности категорий AUTH, CARE, LOYAL, FAIR, PUR, NON (сумма 1);
- "results.justification.justification_keywords": для категорий слова из текста нормы, которые на них указывают;
- "results.law_type.law_type_probability": вероятности типов ALLOW, BAN, DEC, DEF, DUTY, GOAL, OTHER (сумма 1);
- "results.law_type.law_type_keywords": для типов слова из текста нормы, которые на них указывают.
Ключевые слова копируй из текста без изменений. Ответь JSON-объектом {"norms": [...]}.`

// OpenAIModel asks a chat completion model for the same payload the
// classification endpoint returns.
type OpenAIModel struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIModel(apiKey, baseURL, model string, timeout time.Duration) (*OpenAIModel, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIModel{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
	}, nil
}

func (m *OpenAIModel) Classify(ctx context.Context, text string) ([]Norm, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(content, "```")), "```")

	var envelope struct {
		Norms json.RawMessage `json:"norms"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("decode OpenAI response: %w", err)
	}
	if len(envelope.Norms) == 0 {
		return nil, errors.New("OpenAI response has no norms")
	}
	return decodeNorms(envelope.Norms)
}
