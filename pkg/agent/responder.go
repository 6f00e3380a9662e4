// Package agent answers messages addressed to the bot with an LLM reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/metering"
	"github.com/tinyland-inc/craig/pkg/providers"
)

const (
	// ErrorReply is posted when the model call fails.
	ErrorReply = "Sorry, I encountered an error while processing your request."
	// troubleReplyFormat is posted when anything before the model call fails.
	troubleReplyFormat = "Hello <@%s>! I'm having trouble processing your request right now."
)

// ErrEmptyReply is returned by Chat when the model produced no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// HistoryFetcher returns recent conversation history, oldest first.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, channel, chatID string, limit int) ([]bus.HistoryEntry, error)
}

type Options struct {
	Model        string
	MaxTokens    int
	Temperature  *float64
	HistoryLimit int
	BotName      string
}

// Responder consumes mentions from the bus and publishes the model's replies.
type Responder struct {
	bus      *bus.MessageBus
	provider providers.LLMProvider
	history  HistoryFetcher
	meter    *metering.MeterStore
	opts     Options

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewResponder(
	msgBus *bus.MessageBus,
	provider providers.LLMProvider,
	history HistoryFetcher,
	meter *metering.MeterStore,
	opts Options,
) *Responder {
	if opts.BotName == "" {
		opts.BotName = "Craig"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 5
	}
	if opts.Model == "" {
		opts.Model = provider.GetDefaultModel()
	}
	return &Responder{
		bus:      msgBus,
		provider: provider,
		history:  history,
		meter:    meter,
		opts:     opts,
	}
}

// Run handles inbound messages until ctx is cancelled or the bus closes.
// Each message is answered on its own goroutine.
func (r *Responder) Run(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	logger.InfoCF("agent", "Responder started", map[string]any{
		"model":         r.opts.Model,
		"history_limit": r.opts.HistoryLimit,
	})

	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("agent", "Responder stopped")
			return
		}

		r.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer r.wg.Done()
			r.handle(ctx, msg)
		}(msg)
	}
}

func (r *Responder) IsRunning() bool {
	return r.running.Load()
}

// Wait blocks until in-flight replies have been published.
func (r *Responder) Wait() {
	r.wg.Wait()
}

func (r *Responder) handle(ctx context.Context, msg bus.InboundMessage) {
	reply := r.Respond(ctx, msg)

	out := bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		Content:  reply,
	}
	if err := r.bus.PublishOutbound(ctx, out); err != nil {
		logger.ErrorCF("agent", "Failed to publish reply", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

// Respond returns the reply to msg. It never fails: errors are logged and
// turned into one of the fallback replies.
func (r *Responder) Respond(ctx context.Context, msg bus.InboundMessage) string {
	fields := map[string]any{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"sender":  msg.SenderID,
		"msg_id":  msg.ID,
	}

	var entries []bus.HistoryEntry
	if r.history != nil {
		var err error
		entries, err = r.history.FetchHistory(ctx, msg.Channel, msg.ChatID, r.opts.HistoryLimit)
		if err != nil {
			fields["error"] = err.Error()
			logger.ErrorCF("agent", "Failed to fetch history", fields)
			return fmt.Sprintf(troubleReplyFormat, msg.SenderID)
		}
	}

	messages := FormatHistory(entries)
	if len(messages) == 0 {
		messages = FormatHistory([]bus.HistoryEntry{{UserID: msg.SenderID, Text: msg.Content}})
	}

	reply, err := r.Chat(ctx, msg.Channel, msg.ChatID, BuildSystemPrompt(r.opts.BotName, msg.BotUserID), messages)
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("agent", "Error generating response", fields)
		return ErrorReply
	}

	logger.DebugCF("agent", "Reply generated", fields)
	return reply
}

// Chat sends the conversation to the model and records usage under channel
// and chatID.
func (r *Responder) Chat(
	ctx context.Context,
	channel, chatID, systemPrompt string,
	conversation []providers.Message,
) (string, error) {
	messages := make([]providers.Message, 0, len(conversation)+1)
	if systemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, conversation...)

	options := map[string]any{}
	if r.opts.MaxTokens > 0 {
		options["max_tokens"] = r.opts.MaxTokens
	}
	if r.opts.Temperature != nil {
		options["temperature"] = *r.opts.Temperature
	}

	start := time.Now()
	resp, err := r.provider.Chat(ctx, messages, r.opts.Model, options)
	r.record(channel, chatID, start, resp, err)
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (r *Responder) record(channel, chatID string, start time.Time, resp *providers.LLMResponse, err error) {
	if r.meter == nil {
		return
	}
	event := metering.UsageEvent{
		Model:     r.opts.Model,
		Duration:  float64(time.Since(start).Milliseconds()),
		Timestamp: time.Now(),
		Failed:    err != nil,
	}
	if resp != nil && resp.Usage != nil {
		event.InputTokens = resp.Usage.PromptTokens
		event.OutputTokens = resp.Usage.CompletionTokens
		event.TotalTokens = resp.Usage.TotalTokens
	}
	r.meter.Record(channel, chatID, event)
}
