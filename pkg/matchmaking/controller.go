package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tinyland-inc/craig/pkg/logger"
)

// Notifier posts on behalf of the controller. Implemented by each chat
// channel.
type Notifier interface {
	// AddReaction reacts to the anchor message with the named marker.
	AddReaction(ctx context.Context, channel, anchorID, name string) error
	// PostMessage posts text, as a threaded reply when threadAnchorID is set,
	// and returns the id of the new message.
	PostMessage(ctx context.Context, channel, text, threadAnchorID string) (string, error)
}

// MessageEvent is an inbound chat message.
type MessageEvent struct {
	Channel string
	TS      string // message id; becomes the session key
	Text    string
	User    string
	SubType string
	BotID   string
}

// ReactionEvent is a reaction added to a message.
type ReactionEvent struct {
	Reaction string
	ItemType string // "message" for reactions on messages; empty is treated as a message
	Channel  string
	ItemTS   string
	User     string
}

// CommandEvent is a slash command invocation. Ack must be called promptly or
// the platform reports the command as failed.
type CommandEvent struct {
	Command   string
	UserID    string
	ChannelID string
	Ack       func() error
}

// Template is a fixed request started by a slash command.
type Template struct {
	Command       string
	RequiredCount int
	Role          string
	Activity      string
}

type ControllerOptions struct {
	JoinReaction     string
	GuideReaction    string
	MaxRequiredCount int // 0 means no upper bound
	Templates        []Template
	// IgnoreUsers are never signed up by reactions, typically the bot itself.
	IgnoreUsers []string
}

// Controller owns the session lifecycle: create, join, complete.
type Controller struct {
	store    *Store
	notifier Notifier
	opts     ControllerOptions
	ignore   atomic.Pointer[map[string]bool]

	created   atomic.Uint64
	completed atomic.Uint64
	joins     atomic.Uint64
}

func NewController(store *Store, notifier Notifier, opts ControllerOptions) *Controller {
	if opts.JoinReaction == "" {
		opts.JoinReaction = "hand"
	}
	if opts.GuideReaction == "" {
		opts.GuideReaction = "arrow_right"
	}
	c := &Controller{
		store:    store,
		notifier: notifier,
		opts:     opts,
	}
	c.SetIgnoredUsers(opts.IgnoreUsers...)
	return c
}

// SetIgnoredUsers replaces the users whose reactions never count as joins.
// Channels call it once they learn the bot's own user id.
func (c *Controller) SetIgnoredUsers(userIDs ...string) {
	m := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			m[id] = true
		}
	}
	c.ignore.Store(&m)
}

func (c *Controller) isIgnored(userID string) bool {
	m := c.ignore.Load()
	return m != nil && (*m)[userID]
}

func (c *Controller) Store() *Store { return c.store }

// CreateFromMessage starts a session anchored on evt when its text carries a
// matchmaking request.
func (c *Controller) CreateFromMessage(ctx context.Context, evt MessageEvent) {
	if evt.SubType != "" || evt.BotID != "" {
		return
	}

	req := Parse(evt.Text)
	if req == nil {
		return
	}
	if !c.acceptCount(req.RequiredCount) {
		logger.DebugCF("matchmaking", "Ignoring request with unsupported quota", map[string]any{
			"channel":  evt.Channel,
			"anchor":   evt.TS,
			"required": req.RequiredCount,
		})
		return
	}

	initial := evt.User
	if mentioned := InitiatorMention(evt.Text); mentioned != "" {
		initial = mentioned
	}

	c.start(ctx, &Session{
		Key:           evt.TS,
		Channel:       evt.Channel,
		RequiredCount: req.RequiredCount,
		Role:          req.Role,
		Activity:      req.Activity,
		Participants:  []Participant{{UserID: initial}},
		RequesterID:   evt.User,
	})
}

// CreateFromCommand acknowledges cmd, posts the template's announcement and
// anchors a session on it. Nothing is stored when the announcement yields no
// message id.
func (c *Controller) CreateFromCommand(ctx context.Context, cmd CommandEvent) {
	if cmd.Ack != nil {
		if err := cmd.Ack(); err != nil {
			logger.ErrorCF("matchmaking", "Failed to acknowledge command", map[string]any{
				"command": cmd.Command,
				"channel": cmd.ChannelID,
				"error":   err.Error(),
			})
			return
		}
	}

	tmpl, ok := c.template(cmd.Command)
	if !ok {
		logger.WarnCF("matchmaking", "Unknown matchmaking command", map[string]any{
			"command": cmd.Command,
		})
		return
	}

	text := fmt.Sprintf("%s needs %d %s for %s",
		Mention(cmd.UserID), tmpl.RequiredCount, tmpl.Role, tmpl.Activity)
	anchor, err := c.notifier.PostMessage(ctx, cmd.ChannelID, text, "")
	if err != nil {
		logger.ErrorCF("matchmaking", "Failed to post command announcement", map[string]any{
			"command": cmd.Command,
			"channel": cmd.ChannelID,
			"error":   err.Error(),
		})
		return
	}
	if anchor == "" {
		logger.WarnCF("matchmaking", "Announcement returned no message id, session not created", map[string]any{
			"command": cmd.Command,
			"channel": cmd.ChannelID,
		})
		return
	}

	c.start(ctx, &Session{
		Key:           anchor,
		Channel:       cmd.ChannelID,
		RequiredCount: tmpl.RequiredCount,
		Role:          tmpl.Role,
		Activity:      tmpl.Activity,
		Participants:  []Participant{{UserID: cmd.UserID}},
		RequesterID:   cmd.UserID,
	})
}

// start stores s and adds the guiding reactions. A session whose initial
// participants already meet the quota completes without being stored.
func (c *Controller) start(ctx context.Context, s *Session) {
	c.created.Add(1)
	if s.IsComplete() {
		c.complete(ctx, s.clone())
		return
	}

	// Store before reacting so a join racing the bot's own reactions finds it.
	if err := c.store.Create(s.Key, s); err != nil {
		logger.DebugCF("matchmaking", "Session already live for anchor", map[string]any{
			"channel": s.Channel,
			"anchor":  s.Key,
		})
		c.created.Add(^uint64(0))
		return
	}

	logger.InfoCF("matchmaking", "Session created", map[string]any{
		"channel":   s.Channel,
		"anchor":    s.Key,
		"required":  s.RequiredCount,
		"role":      s.Role,
		"activity":  s.Activity,
		"requester": s.RequesterID,
	})

	for _, name := range []string{c.opts.GuideReaction, c.opts.JoinReaction} {
		if err := c.notifier.AddReaction(ctx, s.Channel, s.Key, name); err != nil {
			logger.WarnCF("matchmaking", "Failed to add guiding reaction", map[string]any{
				"channel":  s.Channel,
				"anchor":   s.Key,
				"reaction": name,
				"error":    err.Error(),
			})
		}
	}
}

// Join signs evt.User up for the session anchored on the reacted message.
// Reactions other than the join marker, or on messages without a session,
// are ignored.
func (c *Controller) Join(ctx context.Context, evt ReactionEvent) {
	if evt.Reaction != c.opts.JoinReaction {
		return
	}
	if evt.ItemType != "" && evt.ItemType != "message" {
		return
	}
	if c.isIgnored(evt.User) {
		return
	}

	var added bool
	snapshot, completed, found := c.store.Update(evt.ItemTS, func(s *Session) bool {
		added = s.AddParticipant(evt.User)
		return s.IsComplete()
	})
	if !found {
		return
	}

	if added {
		c.joins.Add(1)
		logger.DebugCF("matchmaking", "Participant joined", map[string]any{
			"channel":      snapshot.Channel,
			"anchor":       snapshot.Key,
			"user":         evt.User,
			"participants": len(snapshot.Participants),
			"required":     snapshot.RequiredCount,
		})
	}

	if completed {
		c.complete(ctx, snapshot)
	}
}

// complete announces a session that has already left the store. The session
// stays removed even if the announcement fails.
func (c *Controller) complete(ctx context.Context, s Session) {
	c.completed.Add(1)

	text := fmt.Sprintf("%s is on! %s: %s", s.Activity, s.Role, s.ParticipantMentions())
	if _, err := c.notifier.PostMessage(ctx, s.Channel, text, s.Key); err != nil {
		logger.ErrorCF("matchmaking", "Failed to announce completed session", map[string]any{
			"channel": s.Channel,
			"anchor":  s.Key,
			"error":   err.Error(),
		})
		return
	}

	logger.InfoCF("matchmaking", "Session completed", map[string]any{
		"channel":      s.Channel,
		"anchor":       s.Key,
		"participants": len(s.Participants),
	})
}

func (c *Controller) acceptCount(n int) bool {
	if n < 1 {
		return false
	}
	return c.opts.MaxRequiredCount <= 0 || n <= c.opts.MaxRequiredCount
}

func (c *Controller) template(command string) (Template, bool) {
	name := strings.TrimPrefix(strings.TrimSpace(command), "/")
	for _, t := range c.opts.Templates {
		if strings.TrimPrefix(t.Command, "/") == name {
			return t, true
		}
	}
	return Template{}, false
}

// Stats summarizes the controller's sessions.
type Stats struct {
	Live      int       `json:"live"`
	Created   uint64    `json:"created"`
	Completed uint64    `json:"completed"`
	Joins     uint64    `json:"joins"`
	Sessions  []Session `json:"sessions"`
}

func (c *Controller) Stats() Stats {
	sessions := c.store.Snapshot()
	return Stats{
		Live:      len(sessions),
		Created:   c.created.Load(),
		Completed: c.completed.Load(),
		Joins:     c.joins.Load(),
		Sessions:  sessions,
	}
}
