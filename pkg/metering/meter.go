// Package metering aggregates LLM token usage per chat channel and
// conversation.
package metering

import (
	"sync"
	"time"
)

// UsageEvent describes one LLM call.
type UsageEvent struct {
	RequestID    string    `json:"request_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Duration     float64   `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
	Failed       bool      `json:"failed"`
}

// ChannelMeter tracks usage of one chat channel ("slack", "discord", ...).
type ChannelMeter struct {
	Channel       string                        `json:"channel"`
	TotalCalls    int64                         `json:"total_calls"`
	TotalTokens   int64                         `json:"total_tokens"`
	TotalLatency  float64                       `json:"total_latency_ms"`
	Errors        int64                         `json:"errors"`
	Conversations map[string]*ConversationMeter `json:"conversations"`
}

// ConversationMeter tracks usage of one conversation within a channel.
type ConversationMeter struct {
	ChatID       string    `json:"chat_id"`
	Calls        int64     `json:"calls"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Duration     float64   `json:"duration_ms"`
	LastActivity time.Time `json:"last_activity"`
}

type MeterStore struct {
	mu     sync.RWMutex
	meters map[string]*ChannelMeter
}

func NewMeterStore() *MeterStore {
	return &MeterStore{
		meters: make(map[string]*ChannelMeter),
	}
}

// Record adds a usage event to the meter of channel and chatID.
func (s *MeterStore) Record(channel, chatID string, event UsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meter, ok := s.meters[channel]
	if !ok {
		meter = &ChannelMeter{
			Channel:       channel,
			Conversations: make(map[string]*ConversationMeter),
		}
		s.meters[channel] = meter
	}

	meter.TotalCalls++
	meter.TotalTokens += int64(event.TotalTokens)
	meter.TotalLatency += event.Duration
	if event.Failed {
		meter.Errors++
	}

	conv, ok := meter.Conversations[chatID]
	if !ok {
		conv = &ConversationMeter{ChatID: chatID}
		meter.Conversations[chatID] = conv
	}

	conv.Calls++
	conv.InputTokens += int64(event.InputTokens)
	conv.OutputTokens += int64(event.OutputTokens)
	conv.Duration += event.Duration
	conv.LastActivity = event.Timestamp
}

// GetChannelMeter returns a copy of the meter for channel.
func (s *MeterStore) GetChannelMeter(channel string) (ChannelMeter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meters[channel]
	if !ok {
		return ChannelMeter{}, false
	}
	return m.clone(), true
}

// GetAllMeters returns a copy of every channel meter.
func (s *MeterStore) GetAllMeters() map[string]ChannelMeter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]ChannelMeter, len(s.meters))
	for name, m := range s.meters {
		result[name] = m.clone()
	}
	return result
}

func (m *ChannelMeter) clone() ChannelMeter {
	c := *m
	c.Conversations = make(map[string]*ConversationMeter, len(m.Conversations))
	for k, v := range m.Conversations {
		conv := *v
		c.Conversations[k] = &conv
	}
	return c
}
