package chat

import (
	"context"
	"errors"
	"time"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/model/directory"
)

// MessageView is a message enriched with its author profile and attachment summary.
type MessageView struct {
	ID        string                   `json:"id"`
	Type      chat.Kind                `json:"type"`
	Content   string                   `json:"content"`
	CreatedBy directory.Profile        `json:"createdBy"`
	Photo     *directory.PhotoSummary  `json:"photo,omitempty"`
	Bundle    *directory.BundleSummary `json:"bundle,omitempty"`
	IsRead    bool                     `json:"isRead"`
	CreatedAt time.Time                `json:"createdAt"`
}

// ConversationView is a conversation as seen by one participant.
type ConversationView struct {
	ID           string              `json:"id"`
	Participants []directory.Profile `json:"participants"`
	LastSeen     []chat.LastSeen     `json:"lastSeen"`
	Messages     []MessageView       `json:"messages"`
	UnreadCount  int                 `json:"unreadCount"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// profileSet memoizes profile lookups within one response.
type profileSet map[string]directory.Profile

func (s *Service) profile(ctx context.Context, userID string, seen profileSet) directory.Profile {
	if p, ok := seen[userID]; ok {
		return p
	}
	p, err := s.dir.Profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Str("profile", userID).Msg("profile lookup failed, returning bare id")
		}
		p = directory.Profile{ID: userID}
	}
	if seen != nil {
		seen[userID] = p
	}
	return p
}

// messageView enriches m. With resolveAttachments false the attachment is
// reported by id only.
func (s *Service) messageView(ctx context.Context, m chat.Message, seen profileSet, resolveAttachments bool) MessageView {
	view := MessageView{
		ID:        m.ID,
		Type:      m.Kind(),
		Content:   m.Content(),
		CreatedBy: s.profile(ctx, m.Author, seen),
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}

	switch body := m.Body.(type) {
	case chat.PhotoBody:
		photo := directory.PhotoSummary{ID: body.PhotoID}
		if resolveAttachments {
			if resolved, err := s.dir.Photo(ctx, body.PhotoID); err == nil {
				photo = resolved
			} else if !errors.Is(err, directory.ErrNotFound) {
				logging.Ctx(ctx).Warn().Err(err).Str("photo", body.PhotoID).Msg("photo lookup failed, returning bare id")
			}
		}
		view.Photo = &photo
	case chat.BundleBody:
		bundle := directory.BundleSummary{ID: body.BundleID}
		if resolveAttachments {
			if resolved, err := s.dir.Bundle(ctx, body.BundleID); err == nil {
				bundle = resolved
			} else if !errors.Is(err, directory.ErrNotFound) {
				logging.Ctx(ctx).Warn().Err(err).Str("bundle", body.BundleID).Msg("bundle lookup failed, returning bare id")
			}
		}
		view.Bundle = &bundle
	}
	return view
}

func (s *Service) conversationView(ctx context.Context, conv chat.Conversation, viewer string, resolveAttachments bool) ConversationView {
	seen := make(profileSet, len(conv.Participants))

	participants := make([]directory.Profile, len(conv.Participants))
	for i, id := range conv.Participants {
		participants[i] = s.profile(ctx, id, seen)
	}

	messages := make([]MessageView, len(conv.Messages))
	for i, m := range conv.Messages {
		messages[i] = s.messageView(ctx, m, seen, resolveAttachments)
	}

	lastSeen := append([]chat.LastSeen(nil), conv.LastSeen...)
	if lastSeen == nil {
		lastSeen = []chat.LastSeen{}
	}

	return ConversationView{
		ID:           conv.ID,
		Participants: participants,
		LastSeen:     lastSeen,
		Messages:     messages,
		UnreadCount:  chat.UnreadCount(conv, viewer),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}
