package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
)

// ErrNoUserMessage is returned when the model input carries nothing to answer.
var ErrNoUserMessage = errors.New("no user message to answer")

// KeywordModel is an eino chat model that answers the latest user turn with
// the keyword selector instead of a language model.
type KeywordModel struct {
	selector *reply.Selector
}

var _ model.BaseChatModel = (*KeywordModel)(nil)

// NewKeywordModel wraps selector as a chat model.
func NewKeywordModel(selector *reply.Selector) *KeywordModel {
	return &KeywordModel{selector: selector}
}

// Generate answers the last non-blank user message of input.
func (m *KeywordModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	query, ok := lastUserContent(input)
	if !ok {
		return nil, ErrNoUserMessage
	}
	return schema.AssistantMessage(m.selector.Select(query), nil), nil
}

// Stream emits the whole answer as a single chunk.
func (m *KeywordModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// GetType names the model for eino callbacks.
func (m *KeywordModel) GetType() string {
	return "KeywordModel"
}

func lastUserContent(input []*schema.Message) (string, bool) {
	for i := len(input) - 1; i >= 0; i-- {
		msg := input[i]
		if msg == nil || msg.Role != schema.User {
			continue
		}
		if text := strings.TrimSpace(msg.Content); text != "" {
			return text, true
		}
	}
	return "", false
}
