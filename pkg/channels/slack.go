package channels

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

// slackAPI is the subset of *slack.Client the channel uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetConversationHistoryContext(
		ctx context.Context,
		params *slack.GetConversationHistoryParameters,
	) (*slack.GetConversationHistoryResponse, error)
}

type SlackChannel struct {
	*BaseChannel
	config     config.SlackConfig
	api        slackAPI
	socket     *socketmode.Client
	matchmaker *matchmaking.Controller

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSlackChannel(cfg config.SlackConfig, mm config.MatchmakingConfig, msgBus *bus.MessageBus) (*SlackChannel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack bot_token and app_token are required")
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	c := newSlackChannel(cfg, mm, msgBus, api)
	c.socket = socketmode.New(api)
	return c, nil
}

func newSlackChannel(cfg config.SlackConfig, mm config.MatchmakingConfig, msgBus *bus.MessageBus, api slackAPI) *SlackChannel {
	c := &SlackChannel{
		BaseChannel: NewBaseChannel("slack", msgBus, cfg.AllowFrom, cfg.GreetingEnabled),
		config:      cfg,
		api:         api,
	}
	c.matchmaker = newController("slack", mm, c, cfg.JoinReaction, cfg.GuideReaction)
	return c
}

func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack channel (Socket Mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.identify(auth.UserID)

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if c.matchmaker != nil {
		if err := c.matchmaker.Store().Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("slack matchmaking janitor: %w", err)
		}
	}

	if c.socket != nil {
		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			c.eventLoop(runCtx)
		}()
		go func() {
			defer c.wg.Done()
			if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
				logger.ErrorCF("slack", "Socket Mode connection stopped", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}

	c.SetRunning(true)
	logger.InfoCF("slack", "Slack channel started", map[string]any{
		"bot_user_id": auth.UserID,
		"team":        auth.Team,
	})
	return nil
}

func (c *SlackChannel) identify(botUserID string) {
	c.SetBotUserID(botUserID)
	if c.matchmaker != nil {
		c.matchmaker.SetIgnoredUsers(botUserID)
	}
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack channel")

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.matchmaker != nil {
		c.matchmaker.Store().Stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.SetRunning(false)
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack channel not running")
	}
	_, err := c.PostMessage(ctx, msg.ChatID, msg.Content, msg.ThreadID)
	return err
}

// AddReaction implements matchmaking.Notifier.
func (c *SlackChannel) AddReaction(ctx context.Context, channel, anchorID, name string) error {
	return c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, anchorID))
}

// PostMessage implements matchmaking.Notifier. The returned id is the new
// message's timestamp.
func (c *SlackChannel) PostMessage(ctx context.Context, channel, text, threadAnchorID string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadAnchorID != "" {
		opts = append(opts, slack.MsgOptionTS(threadAnchorID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", channel, err)
	}
	return ts, nil
}

// FetchHistory returns up to limit recent messages of chatID, oldest first.
func (c *SlackChannel) FetchHistory(ctx context.Context, chatID string, limit int) ([]bus.HistoryEntry, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: chatID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack history for %s: %w", chatID, err)
	}

	entries := make([]bus.HistoryEntry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		entries = append(entries, bus.HistoryEntry{
			UserID: m.User,
			Text:   m.Text,
			IsBot:  m.BotID != "",
		})
	}
	// Slack returns newest first.
	slices.Reverse(entries)
	return entries, nil
}

func (c *SlackChannel) SessionStats() matchmaking.Stats {
	if c.matchmaker == nil {
		return matchmaking.Stats{}
	}
	return c.matchmaker.Stats()
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, evt)
		}
	}
}

func (c *SlackChannel) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		logger.DebugC("slack", "Connecting to Slack")
	case socketmode.EventTypeConnected:
		logger.InfoC("slack", "Connected to Slack")
	case socketmode.EventTypeConnectionError:
		logger.WarnC("slack", "Slack connection error, retrying")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || evt.Request == nil {
			return
		}
		c.socket.Ack(*evt.Request)
		c.handleEventsAPI(ctx, apiEvent)
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok || evt.Request == nil {
			return
		}
		req := *evt.Request
		c.handleSlashCommand(ctx, cmd, func() error {
			// Ack queues the envelope; socketmode reports write failures itself.
			c.socket.Ack(req)
			return nil
		})
	}
}

func (c *SlackChannel) handleEventsAPI(ctx context.Context, evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := evt.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		c.handleAppMention(ctx, ev)
	case *slackevents.ReactionAddedEvent:
		c.handleReactionAdded(ctx, ev)
	}
}

func (c *SlackChannel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || c.IsSelf(ev.User) || !c.IsAllowed(ev.User) {
		return
	}

	if ev.SubType == "" {
		if greeting := c.GreetingFor(ev.User, ev.Text); greeting != "" {
			if _, err := c.PostMessage(ctx, ev.Channel, greeting, ""); err != nil {
				logger.WarnCF("slack", "Failed to send greeting", map[string]any{
					"channel": ev.Channel,
					"error":   err.Error(),
				})
			}
		}
	}

	if c.matchmaker != nil {
		c.matchmaker.CreateFromMessage(ctx, matchmaking.MessageEvent{
			Channel: ev.Channel,
			TS:      ev.TimeStamp,
			Text:    ev.Text,
			User:    ev.User,
			SubType: ev.SubType,
			BotID:   ev.BotID,
		})
	}
}

func (c *SlackChannel) handleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.BotID != "" || c.IsSelf(ev.User) {
		return
	}
	c.HandleMention(ctx, bus.InboundMessage{
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		MessageID: ev.TimeStamp,
		ThreadID:  ev.ThreadTimeStamp,
		Content:   ev.Text,
	})
}

func (c *SlackChannel) handleReactionAdded(ctx context.Context, ev *slackevents.ReactionAddedEvent) {
	if c.matchmaker == nil || c.IsSelf(ev.User) || !c.IsAllowed(ev.User) {
		return
	}
	c.matchmaker.Join(ctx, matchmaking.ReactionEvent{
		Reaction: ev.Reaction,
		ItemType: ev.Item.Type,
		Channel:  ev.Item.Channel,
		ItemTS:   ev.Item.Timestamp,
		User:     ev.User,
	})
}

func (c *SlackChannel) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand, ack func() error) {
	if c.matchmaker == nil || !c.IsAllowed(cmd.UserID) {
		if err := ack(); err != nil {
			logger.WarnCF("slack", "Failed to acknowledge command", map[string]any{
				"command": cmd.Command,
				"error":   err.Error(),
			})
		}
		return
	}
	c.matchmaker.CreateFromCommand(ctx, matchmaking.CommandEvent{
		Command:   cmd.Command,
		UserID:    cmd.UserID,
		ChannelID: cmd.ChannelID,
		Ack:       ack,
	})
}
