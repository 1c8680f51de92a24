package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/fireworks-chat/backend/internal/config"
	chatservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
)

// Service turns accepted chat messages into model completions.
type Service struct {
	chatModel model.BaseChatModel
	prompt    *Prompt
	streaming bool
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance backed by the configured Ark model.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	p := DefaultPrompt()
	if cfg.PromptFile != "" {
		if p, err = LoadPrompt(cfg.PromptFile); err != nil {
			return nil, err
		}
	}

	return NewServiceWithModel(ctx, chatModel, p, cfg.StreamResponse)
}

// NewServiceWithModel wires an existing chat model into the completion chain.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, p *Prompt, streaming bool) (*Service, error) {
	if p == nil {
		p = DefaultPrompt()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		prompt:    p,
		streaming: streaming,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启模型流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// ChatModel 返回底层的聊天模型
func (s *Service) ChatModel() model.BaseChatModel {
	return s.chatModel
}

// StreamCompletion runs the chain for one request. With streaming disabled the
// full completion is delivered as a single chunk.
func (s *Service) StreamCompletion(ctx context.Context, req chatservice.GenerationRequest) (*schema.StreamReader[*schema.Message], error) {
	input := s.buildChainInput(req.Input)

	var opts []compose.Option
	if req.Model != "" {
		opts = append(opts, compose.WithChatModelOption(model.WithModel(req.Model)))
	}

	if !s.streaming {
		response, err := s.chain.Invoke(ctx, input, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to run AI chain: %w", err)
		}
		log.Printf("[ai] generated response for session=%s, length=%d", req.SessionID, len(response.Content))
		return schema.StreamReaderFromArray([]*schema.Message{response}), nil
	}

	stream, err := s.chain.Stream(ctx, input, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	log.Printf("[ai] streaming response for session=%s", req.SessionID)
	return stream, nil
}

func (s *Service) buildChainInput(userMessage string) map[string]any {
	system, query := s.prompt.Format(userMessage)
	return map[string]any{
		"system": system,
		"query":  query,
	}
}
