// Package matchmaking forms ad-hoc groups from chat messages.
//
// A request such as "I need 3 devs to pair" anchors a Session on the message
// that carried it. Users join by reacting with the join marker; once the
// quota is met the session is removed from the Store and the Controller posts
// a completion reply in the anchor's thread.
package matchmaking

import (
	"slices"
	"strings"
	"time"
)

type Participant struct {
	UserID string `json:"user_id"`
}

// Session is a live matchmaking request. Key is the anchor message id.
type Session struct {
	Key           string        `json:"key"`
	Channel       string        `json:"channel"`
	RequiredCount int           `json:"required_count"`
	Role          string        `json:"role"`
	Activity      string        `json:"activity"`
	Participants  []Participant `json:"participants"`
	RequesterID   string        `json:"requester_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// HasParticipant reports whether userID already joined.
func (s *Session) HasParticipant(userID string) bool {
	return slices.ContainsFunc(s.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

// AddParticipant appends userID unless it already joined. It reports whether
// the participant list changed.
func (s *Session) AddParticipant(userID string) bool {
	if userID == "" || s.HasParticipant(userID) {
		return false
	}
	s.Participants = append(s.Participants, Participant{UserID: userID})
	return true
}

// IsComplete reports whether the quota is met.
func (s *Session) IsComplete() bool {
	return len(s.Participants) >= s.RequiredCount
}

// ParticipantMentions renders participants in join order as a comma-joined
// list of mentions.
func (s *Session) ParticipantMentions() string {
	mentions := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		mentions = append(mentions, Mention(p.UserID))
	}
	return strings.Join(mentions, ", ")
}

func (s *Session) clone() Session {
	c := *s
	c.Participants = slices.Clone(s.Participants)
	return c
}
