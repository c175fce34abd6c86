package chat

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrConversationNotFound = errors.New("chat not found or not authorized")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotAuthor            = errors.New("not the author of this message")
)

// Epoch is the LastSeen value of a participant that never opened the conversation.
var Epoch = time.Unix(0, 0).UTC()

// LastSeen marks how recently a participant viewed a conversation.
type LastSeen struct {
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a two-party thread with its embedded message log.
type Conversation struct {
	ID           string     `json:"id"`
	Participants []string   `json:"participants"`
	LastSeen     []LastSeen `json:"lastSeen"`
	Messages     []Message  `json:"messages"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// PairKey is the order-independent key of a participant pair.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// HasParticipant reports whether user belongs to the conversation.
func (c Conversation) HasParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// LastSeenFor returns the user's marker, or Epoch when there is none.
func (c Conversation) LastSeenFor(user string) time.Time {
	for _, ls := range c.LastSeen {
		if ls.User == user {
			return ls.Timestamp
		}
	}
	return Epoch
}

// FindMessage looks up a message by id.
func (c Conversation) FindMessage(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// UnreadCount counts messages from other participants created strictly after
// the viewer's LastSeen.
func UnreadCount(c Conversation, viewer string) int {
	since := c.LastSeenFor(viewer)
	count := 0
	for _, m := range c.Messages {
		if m.Author != viewer && m.CreatedAt.After(since) {
			count++
		}
	}
	return count
}

// SetLastSeen updates or inserts the user's marker, keeping one entry per user.
func (c *Conversation) SetLastSeen(user string, at time.Time) {
	for i := range c.LastSeen {
		if c.LastSeen[i].User == user {
			c.LastSeen[i].Timestamp = at
			return
		}
	}
	c.LastSeen = append(c.LastSeen, LastSeen{User: user, Timestamp: at})
}

// Clone returns a deep copy that shares no slices with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.LastSeen = append([]LastSeen(nil), c.LastSeen...)
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
