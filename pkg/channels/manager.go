package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

// ErrUnknownChannel is returned for operations naming a channel that is not
// registered.
var ErrUnknownChannel = errors.New("unknown channel")

// Manager owns the enabled channels and routes outbound messages to them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}

	if cfg.Channels.Slack.Enabled {
		logger.DebugC("channels", "Attempting to initialize Slack channel")
		slackCh, err := NewSlackChannel(cfg.Channels.Slack, cfg.Matchmaking, msgBus)
		if err != nil {
			return nil, fmt.Errorf("initialize slack channel: %w", err)
		}
		m.Register(slackCh)
	}

	if cfg.Channels.Discord.Enabled {
		logger.DebugC("channels", "Attempting to initialize Discord channel")
		discordCh, err := NewDiscordChannel(cfg.Channels.Discord, cfg.Matchmaking, msgBus)
		if err != nil {
			return nil, fmt.Errorf("initialize discord channel: %w", err)
		}
		m.Register(discordCh)
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})
	return m, nil
}

// Register adds ch, replacing any channel with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the registered channel names, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. Channels that
// fail to start are logged and skipped; an error is returned only when none
// started.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	started := 0
	var errs []error
	for name, ch := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{"channel": name})
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		started++
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchOutbound(ctx)
	}()

	if started == 0 {
		return errors.Join(errs...)
	}
	logger.InfoC("channels", "All channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		}

		ch, exists := m.GetChannel(msg.Channel)
		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message to channel", map[string]any{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// FetchHistory returns recent history of chatID on the named channel.
func (m *Manager) FetchHistory(ctx context.Context, channel, chatID string, limit int) ([]bus.HistoryEntry, error) {
	ch, ok := m.GetChannel(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	hp, ok := ch.(HistoryProvider)
	if !ok {
		return nil, fmt.Errorf("channel %s does not provide history", channel)
	}
	return hp.FetchHistory(ctx, chatID, limit)
}

// SessionStats returns matchmaking stats keyed by channel name.
func (m *Manager) SessionStats() map[string]matchmaking.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]matchmaking.Stats, len(m.channels))
	for name, ch := range m.channels {
		if r, ok := ch.(SessionReporter); ok {
			stats[name] = r.SessionStats()
		}
	}
	return stats
}

// Ready reports whether at least one channel is registered and all of them
// are running.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.channels) == 0 {
		return false
	}
	for _, ch := range m.channels {
		if !ch.IsRunning() {
			return false
		}
	}
	return true
}
