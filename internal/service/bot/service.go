// Package bot produces bot replies by running the conversation through an
// eino chain backed by the keyword model.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
)

// Service turns a transcript plus the new user input into a reply.
type Service struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewService compiles the reply chain around the keyword model.
func NewService(ctx context.Context, selector *reply.Selector) (*Service, error) {
	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(NewKeywordModel(selector))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Reply answers input in the context of history.
func (s *Service) Reply(ctx context.Context, history []chat.Message, input string) (string, error) {
	response, err := s.chain.Invoke(ctx, buildInput(history, input))
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}

	slog.Debug("bot reply generated", "history", len(history), "length", len(response.Content))
	return response.Content, nil
}

func buildInput(history []chat.Message, input string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	for _, msg := range history {
		if msg.IsBot() {
			messages = append(messages, schema.AssistantMessage(msg.Text, nil))
			continue
		}
		messages = append(messages, schema.UserMessage(msg.Text))
	}
	return append(messages, schema.UserMessage(input))
}
