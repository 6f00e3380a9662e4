package channels

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

// discordAPI is the subset of *discordgo.Session the channel uses.
type discordAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(
		channelID, content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelMessages(
		channelID string,
		limit int,
		beforeID, afterID, aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
	ApplicationCommandCreate(
		appID, guildID string,
		cmd *discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) (*discordgo.ApplicationCommand, error)
}

// discordHistoryMax is the most messages one history request may return.
const discordHistoryMax = 100

type DiscordChannel struct {
	*BaseChannel
	config     config.DiscordConfig
	mmConfig   config.MatchmakingConfig
	api        discordAPI
	session    *discordgo.Session
	matchmaker *matchmaking.Controller

	mu  sync.RWMutex
	ctx context.Context
}

func NewDiscordChannel(cfg config.DiscordConfig, mm config.MatchmakingConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := newDiscordChannel(cfg, mm, msgBus, session)
	c.session = session
	session.AddHandler(c.onReady)
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onReactionAdd)
	session.AddHandler(c.onInteractionCreate)
	return c, nil
}

func newDiscordChannel(cfg config.DiscordConfig, mm config.MatchmakingConfig, msgBus *bus.MessageBus, api discordAPI) *DiscordChannel {
	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom, cfg.GreetingEnabled),
		config:      cfg,
		mmConfig:    mm,
		api:         api,
		ctx:         context.Background(),
	}
	c.matchmaker = newController("discord", mm, c, cfg.JoinReaction, cfg.GuideReaction)
	return c
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if c.matchmaker != nil {
		if err := c.matchmaker.Store().Start(ctx); err != nil {
			return fmt.Errorf("discord matchmaking janitor: %w", err)
		}
	}

	if c.session != nil {
		if err := c.session.Open(); err != nil {
			if c.matchmaker != nil {
				c.matchmaker.Store().Stop()
			}
			return fmt.Errorf("failed to open discord session: %w", err)
		}
	}

	c.SetRunning(true)
	logger.InfoC("discord", "Discord bot connected")
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.SetRunning(false)

	if c.matchmaker != nil {
		c.matchmaker.Store().Stop()
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			return fmt.Errorf("failed to close discord session: %w", err)
		}
	}
	return nil
}

func (c *DiscordChannel) runCtx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	_, err := c.PostMessage(ctx, msg.ChatID, msg.Content, msg.ThreadID)
	return err
}

// AddReaction implements matchmaking.Notifier. name is a unicode emoji or a
// custom emoji in name:id form.
func (c *DiscordChannel) AddReaction(ctx context.Context, channel, anchorID, name string) error {
	return c.api.MessageReactionAdd(channel, anchorID, name, discordgo.WithContext(ctx))
}

// PostMessage implements matchmaking.Notifier. Discord has no reply threads
// on plain messages, so a thread anchor turns the post into a reply to it.
func (c *DiscordChannel) PostMessage(ctx context.Context, channel, text, threadAnchorID string) (string, error) {
	var (
		msg *discordgo.Message
		err error
	)
	if threadAnchorID != "" {
		msg, err = c.api.ChannelMessageSendReply(channel, text, &discordgo.MessageReference{
			MessageID: threadAnchorID,
			ChannelID: channel,
		}, discordgo.WithContext(ctx))
	} else {
		msg, err = c.api.ChannelMessageSend(channel, text, discordgo.WithContext(ctx))
	}
	if err != nil {
		return "", fmt.Errorf("discord post to %s: %w", channel, err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.ID, nil
}

// FetchHistory returns up to limit recent messages of chatID, oldest first.
func (c *DiscordChannel) FetchHistory(ctx context.Context, chatID string, limit int) ([]bus.HistoryEntry, error) {
	if limit <= 0 || limit > discordHistoryMax {
		limit = discordHistoryMax
	}
	msgs, err := c.api.ChannelMessages(chatID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord history for %s: %w", chatID, err)
	}

	entries := make([]bus.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entry := bus.HistoryEntry{Text: m.Content}
		if m.Author != nil {
			entry.UserID = m.Author.ID
			entry.IsBot = m.Author.Bot
		}
		entries = append(entries, entry)
	}
	slices.Reverse(entries)
	return entries, nil
}

func (c *DiscordChannel) SessionStats() matchmaking.Stats {
	if c.matchmaker == nil {
		return matchmaking.Stats{}
	}
	return c.matchmaker.Stats()
}

func (c *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	c.identify(r.User.ID)
	logger.InfoCF("discord", "Discord session ready", map[string]any{
		"bot_user_id": r.User.ID,
		"username":    r.User.Username,
	})
	c.registerCommands(r.User.ID)
}

func (c *DiscordChannel) identify(botUserID string) {
	c.SetBotUserID(botUserID)
	if c.matchmaker != nil {
		c.matchmaker.SetIgnoredUsers(botUserID)
	}
}

func (c *DiscordChannel) registerCommands(fallbackAppID string) {
	if c.matchmaker == nil {
		return
	}
	appID := c.config.AppID
	if appID == "" {
		appID = fallbackAppID
	}

	ctx := c.runCtx()
	for _, tmpl := range c.mmConfig.Commands {
		_, err := c.api.ApplicationCommandCreate(appID, c.config.GuildID, &discordgo.ApplicationCommand{
			Name:        tmpl.CommandName(),
			Description: fmt.Sprintf("Find %d %s for %s", tmpl.RequiredCount, tmpl.Role, tmpl.Activity),
		}, discordgo.WithContext(ctx))
		if err != nil {
			logger.WarnCF("discord", "Failed to register slash command", map[string]any{
				"command": tmpl.CommandName(),
				"error":   err.Error(),
			})
		}
	}
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.handleMessage(c.runCtx(), m.Message)
}

func (c *DiscordChannel) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	c.handleReaction(c.runCtx(), r.MessageReaction)
}

func (c *DiscordChannel) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	c.handleInteraction(c.runCtx(), i.Interaction)
}

func (c *DiscordChannel) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || c.IsSelf(m.Author.ID) {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	if greeting := c.GreetingFor(m.Author.ID, m.Content); greeting != "" {
		if _, err := c.PostMessage(ctx, m.ChannelID, greeting, ""); err != nil {
			logger.WarnCF("discord", "Failed to send greeting", map[string]any{
				"channel": m.ChannelID,
				"error":   err.Error(),
			})
		}
	}

	if c.matchmaker != nil {
		c.matchmaker.CreateFromMessage(ctx, matchmaking.MessageEvent{
			Channel: m.ChannelID,
			TS:      m.ID,
			Text:    m.Content,
			User:    m.Author.ID,
		})
	}

	if c.isAddressedToBot(m) {
		c.HandleMention(ctx, bus.InboundMessage{
			SenderID:  m.Author.ID,
			ChatID:    m.ChannelID,
			MessageID: m.ID,
			Content:   m.Content,
			Metadata: map[string]string{
				"guild_id": m.GuildID,
				"username": m.Author.Username,
			},
		})
	}
}

// isAddressedToBot reports whether m mentions the bot or is a direct message.
func (c *DiscordChannel) isAddressedToBot(m *discordgo.Message) bool {
	if m.GuildID == "" {
		return true
	}
	return slices.ContainsFunc(m.Mentions, func(u *discordgo.User) bool {
		return u != nil && c.IsSelf(u.ID)
	})
}

func (c *DiscordChannel) handleReaction(ctx context.Context, r *discordgo.MessageReaction) {
	if r == nil || c.matchmaker == nil || c.IsSelf(r.UserID) || !c.IsAllowed(r.UserID) {
		return
	}
	c.matchmaker.Join(ctx, matchmaking.ReactionEvent{
		Reaction: r.Emoji.Name,
		Channel:  r.ChannelID,
		ItemTS:   r.MessageID,
		User:     r.UserID,
	})
}

func (c *DiscordChannel) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	name := i.ApplicationCommandData().Name
	ack := func() error {
		return c.api.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Looking for players...",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}, discordgo.WithContext(ctx))
	}

	if c.matchmaker == nil || !c.IsAllowed(userID) {
		if err := ack(); err != nil {
			logger.WarnCF("discord", "Failed to acknowledge interaction", map[string]any{
				"command": name,
				"error":   err.Error(),
			})
		}
		return
	}

	c.matchmaker.CreateFromCommand(ctx, matchmaking.CommandEvent{
		Command:   name,
		UserID:    userID,
		ChannelID: i.ChannelID,
		Ack:       ack,
	})
}
