package mongo

import (
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterhub/backend/internal/model/chat"
)

type conversationDoc struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	PairKey      string               `bson:"pairKey"`
	Participants []string             `bson:"participants"`
	LastSeen     map[string]time.Time `bson:"lastSeen"`
	Messages     []messageDoc         `bson:"messages"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	CreatedBy string             `bson:"created_by"`
	Type      string             `bson:"type"`
	Content   string             `bson:"content"`
	Photo     string             `bson:"photo,omitempty"`
	Bundle    string             `bson:"bundle,omitempty"`
	IsRead    bool               `bson:"isRead"`
	CreatedAt time.Time          `bson:"created_at"`
}

func newMessageDoc(m chat.Message) messageDoc {
	doc := messageDoc{
		ID:        primitive.NewObjectID(),
		CreatedBy: m.Author,
		Type:      string(m.Kind()),
		Content:   m.Content(),
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
	switch b := m.Body.(type) {
	case chat.PhotoBody:
		doc.Photo = b.PhotoID
	case chat.BundleBody:
		doc.Bundle = b.BundleID
	}
	return doc
}

func (d messageDoc) toModel() chat.Message {
	body, err := chat.NewBody(chat.Kind(d.Type), d.Content, d.Photo, d.Bundle)
	if err != nil {
		// legacy rows may miss the attachment; keep their text
		body = chat.TextBody{Content: d.Content}
	}
	return chat.Message{
		ID:        d.ID.Hex(),
		Author:    d.CreatedBy,
		Body:      body,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (d conversationDoc) toModel() chat.Conversation {
	conv := chat.Conversation{
		ID:           d.ID.Hex(),
		Participants: append([]string(nil), d.Participants...),
		LastSeen:     lastSeenList(d.Participants, d.LastSeen),
		Messages:     make([]chat.Message, len(d.Messages)),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	for i, m := range d.Messages {
		conv.Messages[i] = m.toModel()
	}
	return conv
}

// lastSeenList orders markers by participant, then any strays by user id.
func lastSeenList(participants []string, seen map[string]time.Time) []chat.LastSeen {
	out := make([]chat.LastSeen, 0, len(seen))
	done := make(map[string]bool, len(seen))
	for _, p := range participants {
		if ts, ok := seen[p]; ok {
			out = append(out, chat.LastSeen{User: p, Timestamp: ts.UTC()})
			done[p] = true
		}
	}

	rest := make([]string, 0)
	for user := range seen {
		if !done[user] {
			rest = append(rest, user)
		}
	}
	sort.Strings(rest)
	for _, user := range rest {
		out = append(out, chat.LastSeen{User: user, Timestamp: seen[user].UTC()})
	}
	return out
}
