package title

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/fireworks-chat/backend/internal/analysis/topic"
)

// Config 控制标题服务的行为。
type Config struct {
	Enabled bool
}

// Service 使用大模型为会话生成标题，并在必要时回退到关键词规则。
type Service struct {
	enabled  bool
	namer    compose.Runnable[map[string]any, *schema.Message]
	fallback func(user, assistant string) string
}

// NewService 创建标题服务。chatModel 可重用现有的大模型实例，为 nil 时只使用关键词规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: topic.Title,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage(titleUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	svc.namer = runnable
	return svc, nil
}

// Enabled 返回是否启用大模型命名。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.namer != nil
}

// Title names a conversation from its first exchange.
func (s *Service) Title(ctx context.Context, userMessage, assistantMessage string) string {
	if !s.Enabled() {
		return s.fallback(userMessage, assistantMessage)
	}

	msg, err := s.namer.Invoke(ctx, map[string]any{
		"user_message":      strings.TrimSpace(userMessage),
		"assistant_message": strings.TrimSpace(assistantMessage),
	})
	if err != nil {
		log.Printf("[title] namer invoke failed, use fallback: %v", err)
		return s.fallback(userMessage, assistantMessage)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback(userMessage, assistantMessage)
	}

	result, err := parseNamerOutput(msg.Content)
	if err != nil {
		log.Printf("[title] namer output parse failed, use fallback: %v", err)
		return s.fallback(userMessage, assistantMessage)
	}

	title := cleanTitle(result.Title)
	if title == "" {
		if label := topic.TitleFor(topic.Label(strings.ToLower(strings.TrimSpace(result.Topic)))); label != "" {
			return label
		}
		return s.fallback(userMessage, assistantMessage)
	}
	return title
}

// parseNamerOutput 解析大模型返回的 JSON。
func parseNamerOutput(content string) (*namerPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &namerPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func cleanTitle(raw string) string {
	title := strings.Trim(strings.TrimSpace(raw), `"'`)
	title = strings.Join(strings.Fields(title), " ")
	return topic.Excerpt(title)
}

type namerPayload struct {
	Title string `json:"title"`
	Topic string `json:"topic"`
}

const titleSystemPrompt = "You name HR assistant conversations for a sidebar. Read the first user question and the assistant answer, then return only a JSON object with two fields: title (at most six words, no trailing punctuation) and topic (one of general/policy/certification/employee-relations/benefits/recruiting/compensation/compliance/training). Do not output any other text."

const titleUserPrompt = "User question:\n{user_message}\n\nAssistant answer:\n{assistant_message}\n\nReturn the JSON now."
