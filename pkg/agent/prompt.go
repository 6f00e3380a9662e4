package agent

import (
	"fmt"
	"strings"

	"github.com/tinyland-inc/craig/pkg/bus"
	"github.com/tinyland-inc/craig/pkg/providers"
)

// BuildSystemPrompt returns the persona prompt. botUserID lets the model
// recognise mentions of itself; it may be empty outside a chat platform.
func BuildSystemPrompt(botName, botUserID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a helpful chat bot.", botName)
	if botUserID != "" {
		fmt.Fprintf(&sb, " In this conversation, your user ID appears as <@%s>.\n", botUserID)
		fmt.Fprintf(&sb, "When users mention you with <@%s> in their messages, they're directly addressing you.\n", botUserID)
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString("Other users have their own user IDs.\n")
	sb.WriteString(`User messages will be prefixed with their ID like "<@34298374>: message text".` + "\n")
	sb.WriteString(`When responding to a specific user, mention them using their ID (e.g., "Hey <@34298374>, ...").` + "\n")
	sb.WriteString("Respond in a friendly, helpful, and concise manner. Keep your responses conversational\n")
	sb.WriteString("and natural, as if you're a team member in the channel.")
	return sb.String()
}

// FormatHistory maps chat history to model messages. Bot messages become
// assistant turns; human messages become user turns prefixed with the
// sender's mention. Consecutive turns of one role are merged and leading
// assistant turns dropped so the result opens with a user turn and
// alternates.
func FormatHistory(entries []bus.HistoryEntry) []providers.Message {
	messages := make([]providers.Message, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}

		role := "user"
		content := text
		if e.IsBot {
			role = "assistant"
		} else if e.UserID != "" {
			content = "<@" + e.UserID + ">: " + text
		}

		if len(messages) == 0 && role == "assistant" {
			continue
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n" + content
			continue
		}
		messages = append(messages, providers.Message{Role: role, Content: content})
	}
	return messages
}
