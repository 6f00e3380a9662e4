package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/logger"
	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// HistoryProvider is implemented by channels that can return recent
// conversation history for the AI responder.
type HistoryProvider interface {
	FetchHistory(ctx context.Context, chatID string, limit int) ([]bus.HistoryEntry, error)
}

// SessionReporter is implemented by channels that run a matchmaking engine.
type SessionReporter interface {
	SessionStats() matchmaking.Stats
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
	greeting  bool
	botUserID atomic.Value // string
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string, greeting bool) *BaseChannel {
	bc := &BaseChannel{
		bus:       msgBus,
		name:      name,
		allowList: allowList,
		greeting:  greeting,
	}
	bc.botUserID.Store("")
	return bc
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// BotUserID is the platform id of the bot account, known after Start.
func (c *BaseChannel) BotUserID() string {
	return c.botUserID.Load().(string)
}

func (c *BaseChannel) SetBotUserID(id string) {
	c.botUserID.Store(id)
}

// IsSelf reports whether userID is the bot itself.
func (c *BaseChannel) IsSelf(userID string) bool {
	self := c.BotUserID()
	return self != "" && userID == self
}

// IsAllowed reports whether senderID may use the bot. An empty allow list
// admits everyone. Entries may carry a leading "@" and may use the compound
// "id|username" form on either side.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMention hands a message addressed to the bot to the AI responder.
func (c *BaseChannel) HandleMention(ctx context.Context, msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		logger.DebugCF(c.name, "Mention from user not in allow list", map[string]any{
			"sender": msg.SenderID,
		})
		return
	}

	msg.Channel = c.name
	msg.BotUserID = c.BotUserID()
	if err := c.bus.PublishInbound(ctx, msg); err != nil {
		logger.WarnCF(c.name, "Failed to queue mention", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

// GreetingFor returns the greeting for text, or "" when the message is not a
// greeting or greetings are disabled.
func (c *BaseChannel) GreetingFor(userID, text string) string {
	if !c.greeting || userID == "" || !strings.Contains(text, "hello") {
		return ""
	}
	return "Hello there " + matchmaking.Mention(userID) + "!"
}
