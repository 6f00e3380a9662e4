package bus

// InboundMessage is a message addressed to the bot (a mention or a direct
// message) that the AI responder should answer.
type InboundMessage struct {
	ID        string            `json:"id"`                   // correlation id, assigned on publish
	Channel   string            `json:"channel"`              // "slack" | "discord"
	SenderID  string            `json:"sender_id"`            // platform user id
	ChatID    string            `json:"chat_id"`              // conversation / channel id
	MessageID string            `json:"message_id,omitempty"` // platform message id (slack ts)
	ThreadID  string            `json:"thread_id,omitempty"`
	BotUserID string            `json:"bot_user_id,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply the owning channel should post.
type OutboundMessage struct {
	ID       string `json:"id"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content"`
}

// HistoryEntry is one message of recent conversation history, oldest first.
type HistoryEntry struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	IsBot  bool   `json:"is_bot"`
}
