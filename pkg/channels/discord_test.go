package channels

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/config"
)

type discordPost struct {
	Channel string
	Content string
	ReplyTo string
}

type fakeDiscordAPI struct {
	mu        sync.Mutex
	calls     []string
	posts     []discordPost
	reactions []string
	commands  []string
	history   []*discordgo.Message
	nextID    int
}

func (f *fakeDiscordAPI) send(channelID, content, replyTo string) *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "post")
	f.posts = append(f.posts, discordPost{channelID, content, replyTo})
	f.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID, Content: content}
}

func (f *fakeDiscordAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.send(channelID, content, ""), nil
}

func (f *fakeDiscordAPI) ChannelMessageSendReply(
	channelID, content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return f.send(channelID, content, reference.MessageID), nil
}

func (f *fakeDiscordAPI) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "react")
	f.reactions = append(f.reactions, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

func (f *fakeDiscordAPI) ChannelMessages(
	_ string,
	limit int,
	_, _, _ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	msgs := f.history
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeDiscordAPI) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "ack")
	return nil
}

func (f *fakeDiscordAPI) ApplicationCommandCreate(
	appID, guildID string,
	cmd *discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) (*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, appID+"/"+guildID+"/"+cmd.Name)
	return cmd, nil
}

func (f *fakeDiscordAPI) Posts() []discordPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discordPost(nil), f.posts...)
}

func testDiscordConfig() config.DiscordConfig {
	cfg := config.DefaultConfig().Channels.Discord
	cfg.Enabled = true
	cfg.Token = "token"
	cfg.GuildID = "G1"
	return cfg
}

func newTestDiscord(t *testing.T, api *fakeDiscordAPI) (*DiscordChannel, *bus.MessageBus) {
	t.Helper()
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)
	c := newDiscordChannel(testDiscordConfig(), config.DefaultConfig().Matchmaking, msgBus, api)
	c.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "BOT", Username: "craig"}})
	c.SetRunning(true)
	return c, msgBus
}

func guildMessage(id, user, content string, mentions ...*discordgo.User) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "C1",
		GuildID:   "G1",
		Content:   content,
		Author:    &discordgo.User{ID: user, Username: user},
		Mentions:  mentions,
	}
}

func joinReaction(user, messageID string) *discordgo.MessageReaction {
	return &discordgo.MessageReaction{
		UserID:    user,
		MessageID: messageID,
		ChannelID: "C1",
		Emoji:     discordgo.Emoji{Name: "✋"},
	}
}

func TestDiscordChannel_RegistersCommandsOnReady(t *testing.T) {
	api := &fakeDiscordAPI{}
	newTestDiscord(t, api)
	assert.Equal(t, []string{"BOT/G1/mario"}, api.commands)
}

func TestDiscordChannel_MatchmakingFlow(t *testing.T) {
	api := &fakeDiscordAPI{}
	c, _ := newTestDiscord(t, api)
	ctx := context.Background()

	c.handleMessage(ctx, guildMessage("500", "UA", "<@UB> needs 2 friends to queue"))
	assert.Equal(t, []string{"C1/500/➡️", "C1/500/✋"}, api.reactions)

	c.handleReaction(ctx, joinReaction("BOT", "500"))
	c.handleReaction(ctx, joinReaction("UB", "500"))
	assert.Empty(t, api.Posts())

	c.handleReaction(ctx, joinReaction("UC", "500"))
	require.Len(t, api.Posts(), 1)
	assert.Equal(t, discordPost{"C1", "queue is on! friends: <@UB>, <@UC>", "500"}, api.Posts()[0])
	assert.Equal(t, 0, c.SessionStats().Live)
}

func TestDiscordChannel_IgnoresBots(t *testing.T) {
	api := &fakeDiscordAPI{}
	c, _ := newTestDiscord(t, api)

	m := guildMessage("1", "OTHERBOT", "I need 2 people for lunch")
	m.Author.Bot = true
	c.handleMessage(context.Background(), m)

	assert.Empty(t, api.calls)
}

func TestDiscordChannel_MentionPublishesInbound(t *testing.T) {
	c, msgBus := newTestDiscord(t, &fakeDiscordAPI{})

	c.handleMessage(context.Background(), guildMessage("7", "UA", "<@BOT> tell me a joke", &discordgo.User{ID: "BOT"}))

	msg, ok := msgBus.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "discord", msg.Channel)
	assert.Equal(t, "UA", msg.SenderID)
	assert.Equal(t, "C1", msg.ChatID)
	assert.Equal(t, "BOT", msg.BotUserID)
	assert.Equal(t, "G1", msg.Metadata["guild_id"])
}

func TestDiscordChannel_DirectMessageIsAddressed(t *testing.T) {
	c, _ := newTestDiscord(t, &fakeDiscordAPI{})

	dm := guildMessage("8", "UA", "hi")
	dm.GuildID = ""
	assert.True(t, c.isAddressedToBot(dm))
	assert.False(t, c.isAddressedToBot(guildMessage("9", "UA", "hi")))
}

func TestDiscordChannel_Greeting(t *testing.T) {
	api := &fakeDiscordAPI{}
	c, _ := newTestDiscord(t, api)

	c.handleMessage(context.Background(), guildMessage("1", "UA", "well hello"))
	assert.Equal(t, []discordPost{{"C1", "Hello there <@UA>!", ""}}, api.Posts())
}

func TestDiscordChannel_SlashCommand(t *testing.T) {
	api := &fakeDiscordAPI{}
	c, _ := newTestDiscord(t, api)

	c.handleInteraction(context.Background(), &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "C1",
		GuildID:   "G1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "UA"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: "mario"},
	})

	assert.Equal(t, []string{"ack", "post", "react", "react"}, api.calls)
	assert.Equal(t, "<@UA> needs 4 racers for Mario Kart", api.Posts()[0].Content)

	stats := c.SessionStats()
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "m1", stats.Sessions[0].Key)
}

func TestDiscordChannel_IgnoresOtherInteractions(t *testing.T) {
	api := &fakeDiscordAPI{}
	c, _ := newTestDiscord(t, api)

	c.handleInteraction(context.Background(), &discordgo.Interaction{Type: discordgo.InteractionPing})
	assert.Empty(t, api.calls)
}

func TestDiscordChannel_FetchHistory(t *testing.T) {
	api := &fakeDiscordAPI{history: []*discordgo.Message{
		{Content: "newest", Author: &discordgo.User{ID: "BOT", Bot: true}},
		{Content: "older", Author: &discordgo.User{ID: "UA"}},
	}}
	c, _ := newTestDiscord(t, api)

	entries, err := c.FetchHistory(context.Background(), "C1", 5)
	require.NoError(t, err)
	assert.Equal(t, []bus.HistoryEntry{
		{UserID: "UA", Text: "older"},
		{UserID: "BOT", Text: "newest", IsBot: true},
	}, entries)
}

func TestNewDiscordChannel_RequiresToken(t *testing.T) {
	_, err := NewDiscordChannel(config.DiscordConfig{}, config.MatchmakingConfig{}, bus.NewMessageBus())
	assert.Error(t, err)
}
