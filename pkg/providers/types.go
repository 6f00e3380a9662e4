package providers

import (
	"context"

	"github.com/tinyland-inc/craig/pkg/providers/protocoltypes"
)

type (
	Message     = protocoltypes.Message
	UsageInfo   = protocoltypes.UsageInfo
	LLMResponse = protocoltypes.LLMResponse
)

// LLMProvider generates a reply to a conversation. Recognized options are
// "max_tokens" (int) and "temperature" (float64).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]any) (*LLMResponse, error)
	GetDefaultModel() string
}
