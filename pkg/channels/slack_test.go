package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/config"
)

type slackPost struct {
	Channel string
	Text    string
	Thread  string
}

type fakeSlackAPI struct {
	mu        sync.Mutex
	posts     []slackPost
	reactions []string
	nextTS    int
	history   []slack.Message
	postErr   error
	authErr   error
}

func (f *fakeSlackAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "craig-test"}, nil
}

func (f *fakeSlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.test/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.posts = append(f.posts, slackPost{
		Channel: channelID,
		Text:    values.Get("text"),
		Thread:  values.Get("thread_ts"),
	})
	f.nextTS++
	return channelID, fmt.Sprintf("900.%03d", f.nextTS), nil
}

func (f *fakeSlackAPI) AddReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, item.Channel+"/"+item.Timestamp+"/"+name)
	return nil
}

func (f *fakeSlackAPI) GetConversationHistoryContext(
	_ context.Context,
	params *slack.GetConversationHistoryParameters,
) (*slack.GetConversationHistoryResponse, error) {
	msgs := f.history
	if params.Limit > 0 && len(msgs) > params.Limit {
		msgs = msgs[:params.Limit]
	}
	return &slack.GetConversationHistoryResponse{Messages: msgs}, nil
}

func (f *fakeSlackAPI) Posts() []slackPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]slackPost(nil), f.posts...)
}

func testSlackConfig() config.SlackConfig {
	return config.SlackConfig{
		Enabled:         true,
		BotToken:        "xoxb-test",
		AppToken:        "xapp-test",
		JoinReaction:    "hand",
		GuideReaction:   "arrow_right",
		GreetingEnabled: true,
	}
}

func newTestSlack(t *testing.T, api *fakeSlackAPI) (*SlackChannel, *bus.MessageBus) {
	t.Helper()
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)
	c := newSlackChannel(testSlackConfig(), config.DefaultConfig().Matchmaking, msgBus, api)
	c.identify("UBOT")
	c.SetRunning(true)
	return c, msgBus
}

func callback(data any) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

func reactionAdded(user, ts string) slackevents.EventsAPIEvent {
	return callback(&slackevents.ReactionAddedEvent{
		User:     user,
		Reaction: "hand",
		Item:     slackevents.Item{Type: "message", Channel: "C1", Timestamp: ts},
	})
}

func TestNewSlackChannel_RequiresTokens(t *testing.T) {
	_, err := NewSlackChannel(config.SlackConfig{BotToken: "xoxb"}, config.MatchmakingConfig{}, bus.NewMessageBus())
	assert.Error(t, err)
}

func TestSlackChannel_MatchmakingFlow(t *testing.T) {
	api := &fakeSlackAPI{}
	c, _ := newTestSlack(t, api)
	ctx := context.Background()

	c.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UA", Text: "I need 2 people for lunch", TimeStamp: "100.1",
	}))
	assert.Equal(t, []string{"C1/100.1/arrow_right", "C1/100.1/hand"}, api.reactions)
	assert.Equal(t, 1, c.SessionStats().Live)

	// The bot's own join marker must not count.
	c.handleEventsAPI(ctx, reactionAdded("UBOT", "100.1"))
	c.handleEventsAPI(ctx, reactionAdded("UA", "100.1"))
	assert.Empty(t, api.Posts())

	c.handleEventsAPI(ctx, reactionAdded("UB", "100.1"))
	require.Len(t, api.Posts(), 1)
	assert.Equal(t, slackPost{"C1", "lunch is on! people: <@UA>, <@UB>", "100.1"}, api.Posts()[0])
	assert.Equal(t, 0, c.SessionStats().Live)
}

func TestSlackChannel_IgnoresBotMessages(t *testing.T) {
	api := &fakeSlackAPI{}
	c, _ := newTestSlack(t, api)

	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", BotID: "B1", Text: "I need 2 people for lunch", TimeStamp: "1",
	}))
	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UBOT", Text: "I need 2 people for lunch", TimeStamp: "2",
	}))

	assert.Empty(t, api.reactions)
	assert.Equal(t, 0, c.SessionStats().Live)
}

func TestSlackChannel_Greeting(t *testing.T) {
	api := &fakeSlackAPI{}
	c, _ := newTestSlack(t, api)

	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UA", Text: "hello everyone", TimeStamp: "1",
	}))

	assert.Equal(t, []slackPost{{"C1", "Hello there <@UA>!", ""}}, api.Posts())
}

func TestSlackChannel_GreetingDisabled(t *testing.T) {
	api := &fakeSlackAPI{}
	cfg := testSlackConfig()
	cfg.GreetingEnabled = false
	c := newSlackChannel(cfg, config.MatchmakingConfig{}, bus.NewMessageBus(), api)

	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UA", Text: "hello", TimeStamp: "1",
	}))
	assert.Empty(t, api.Posts())
}

func TestSlackChannel_AppMentionPublishesInbound(t *testing.T) {
	c, msgBus := newTestSlack(t, &fakeSlackAPI{})

	c.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{
		Channel: "C1", User: "UA", Text: "<@UBOT> what's up?", TimeStamp: "5.5", ThreadTimeStamp: "4.4",
	}))

	msg, ok := msgBus.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "slack", msg.Channel)
	assert.Equal(t, "UA", msg.SenderID)
	assert.Equal(t, "C1", msg.ChatID)
	assert.Equal(t, "5.5", msg.MessageID)
	assert.Equal(t, "4.4", msg.ThreadID)
	assert.Equal(t, "UBOT", msg.BotUserID)
	assert.NotEmpty(t, msg.ID)
}

func TestSlackChannel_AllowList(t *testing.T) {
	api := &fakeSlackAPI{}
	cfg := testSlackConfig()
	cfg.AllowFrom = config.FlexibleStringSlice{"UA"}
	c := newSlackChannel(cfg, config.DefaultConfig().Matchmaking, bus.NewMessageBus(), api)
	c.identify("UBOT")

	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UX", Text: "I need 2 people for lunch", TimeStamp: "1",
	}))
	assert.Equal(t, 0, c.SessionStats().Live)

	c.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{
		Channel: "C1", User: "UA", Text: "I need 2 people for lunch", TimeStamp: "2",
	}))
	assert.Equal(t, 1, c.SessionStats().Live)
}

func TestSlackChannel_SlashCommand(t *testing.T) {
	api := &fakeSlackAPI{}
	c, _ := newTestSlack(t, api)

	acked := false
	c.handleSlashCommand(context.Background(), slack.SlashCommand{
		Command: "/mario", UserID: "UA", ChannelID: "C1",
	}, func() error {
		assert.Empty(t, api.Posts(), "ack must precede the announcement")
		acked = true
		return nil
	})

	assert.True(t, acked)
	require.Len(t, api.Posts(), 1)
	assert.Equal(t, "<@UA> needs 4 racers for Mario Kart", api.Posts()[0].Text)

	stats := c.SessionStats()
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "900.001", stats.Sessions[0].Key)
	assert.Equal(t, 4, stats.Sessions[0].RequiredCount)
}

func TestSlackChannel_SlashCommandWithoutMatchmaking(t *testing.T) {
	api := &fakeSlackAPI{}
	c := newSlackChannel(testSlackConfig(), config.MatchmakingConfig{}, bus.NewMessageBus(), api)

	acked := false
	c.handleSlashCommand(context.Background(), slack.SlashCommand{Command: "/mario", UserID: "UA"}, func() error {
		acked = true
		return nil
	})
	assert.True(t, acked)
	assert.Empty(t, api.Posts())
}

func TestSlackChannel_FetchHistoryOldestFirst(t *testing.T) {
	api := &fakeSlackAPI{history: []slack.Message{
		{Msg: slack.Msg{User: "UBOT", BotID: "B1", Text: "newest"}},
		{Msg: slack.Msg{User: "UA", Text: "older"}},
	}}
	c, _ := newTestSlack(t, api)

	entries, err := c.FetchHistory(context.Background(), "C1", 5)
	require.NoError(t, err)
	assert.Equal(t, []bus.HistoryEntry{
		{UserID: "UA", Text: "older"},
		{UserID: "UBOT", Text: "newest", IsBot: true},
	}, entries)
}

func TestSlackChannel_SendRequiresRunning(t *testing.T) {
	api := &fakeSlackAPI{}
	c := newSlackChannel(testSlackConfig(), config.MatchmakingConfig{}, bus.NewMessageBus(), api)

	err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "C1", Content: "hi"})
	assert.Error(t, err)

	c.SetRunning(true)
	require.NoError(t, c.Send(context.Background(), bus.OutboundMessage{ChatID: "C1", Content: "hi", ThreadID: "1.1"}))
	assert.Equal(t, []slackPost{{"C1", "hi", "1.1"}}, api.Posts())
}

func TestSlackChannel_PostMessageError(t *testing.T) {
	api := &fakeSlackAPI{postErr: errors.New("channel_not_found")}
	c, _ := newTestSlack(t, api)

	_, err := c.PostMessage(context.Background(), "C1", "hi", "")
	assert.ErrorIs(t, err, api.postErr)
}

func TestSlackChannel_StartStop(t *testing.T) {
	api := &fakeSlackAPI{}
	c := newSlackChannel(testSlackConfig(), config.DefaultConfig().Matchmaking, bus.NewMessageBus(), api)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsRunning())
	assert.Equal(t, "UBOT", c.BotUserID())

	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.IsRunning())
}

func TestSlackChannel_StartAuthFailure(t *testing.T) {
	api := &fakeSlackAPI{authErr: errors.New("invalid_auth")}
	c := newSlackChannel(testSlackConfig(), config.MatchmakingConfig{}, bus.NewMessageBus(), api)

	assert.ErrorIs(t, c.Start(context.Background()), api.authErr)
	assert.False(t, c.IsRunning())
}
