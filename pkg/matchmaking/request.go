package matchmaking

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	requestPattern = regexp.MustCompile(`(?i)(?:i|[^ ]+) needs? (\d+) (\w+)(?: for| to) (.+)`)

	// <@!id> is the Discord nickname mention form.
	initiatorPattern = regexp.MustCompile(`(?i)<@!?(\w+)> need`)
)

// Request is a matchmaking request extracted from free text.
type Request struct {
	RequiredCount int
	Role          string
	Activity      string
}

// Parse extracts a request of the form "<subject> need(s) <N> <role> for|to
// <activity>" from text. It returns nil when text carries no request, which
// is the common case and not an error.
//
// The count is returned as written, including 0; callers decide what
// quotas they accept.
func Parse(text string) *Request {
	m := requestPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	count, err := strconv.Atoi(m[1])
	if err != nil {
		// out of range for int
		return nil
	}

	activity := strings.TrimSpace(m[3])
	if activity == "" {
		return nil
	}

	return &Request{
		RequiredCount: count,
		Role:          m[2],
		Activity:      activity,
	}
}

// InitiatorMention returns the user id mentioned immediately before "need"
// in text, or "" when the request was written in the first person.
func InitiatorMention(text string) string {
	m := initiatorPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Mention formats a user id as a platform mention.
func Mention(userID string) string {
	return "<@" + userID + ">"
}
