package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shutterhub/backend/internal/metrics"
	"github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/model/directory"
)

// Service is the single entry point for chat mutations and queries. Both the
// HTTP handlers and the gateway call it, so validation and persistence rules
// live only here.
type Service struct {
	store    chat.Store
	dir      directory.Directory
	notifier Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier attaches real-time delivery for committed mutations.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the chat service. dir may be nil, in which case views carry
// bare ids.
func NewService(store chat.Store, dir directory.Directory, opts ...Option) *Service {
	if dir == nil {
		dir = directory.NewMemoryDirectory()
	}
	s := &Service{
		store:    store,
		dir:      dir,
		notifier: nopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	// match the millisecond precision of stored timestamps
	clock := s.now
	s.now = func() time.Time { return clock().Truncate(time.Millisecond) }
	return s
}

// FindOrCreate returns the caller's conversation with participantID, creating
// it on first contact. created reports whether a new conversation was made.
func (s *Service) FindOrCreate(ctx context.Context, userID, participantID string) (view ConversationView, created bool, err error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return ConversationView{}, false, s.fail("find_or_create", ErrParticipantRequired)
	}
	if participantID == userID {
		return ConversationView{}, false, s.fail("find_or_create", ErrSelfConversation)
	}

	conv, created, err := s.store.FindOrCreate(ctx, userID, participantID, s.now())
	if err != nil {
		return ConversationView{}, false, s.fail("find_or_create", fmt.Errorf("find or create conversation: %w", err))
	}

	if created {
		s.notifier.ConversationCreated(ctx, ConversationEvent{
			ChatID:       conv.ID,
			Participants: append([]string(nil), conv.Participants...),
		})
	}
	return s.conversationView(ctx, conv, userID, false), created, nil
}

// ListConversations returns the caller's conversations, most recently updated
// first, each with the caller's unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	convs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, s.fail("list", fmt.Errorf("list conversations: %w", err))
	}

	views := make([]ConversationView, len(convs))
	for i, conv := range convs {
		views[i] = s.conversationView(ctx, conv, userID, false)
	}
	return views, nil
}

// GetConversation returns one conversation. Missing conversations and
// conversations the caller is not part of are indistinguishable.
func (s *Service) GetConversation(ctx context.Context, userID, chatID string) (ConversationView, error) {
	conv, err := s.store.Get(ctx, chatID)
	if err != nil {
		return ConversationView{}, s.fail("get", fmt.Errorf("get conversation: %w", err))
	}
	if !conv.HasParticipant(userID) {
		return ConversationView{}, s.fail("get", chat.ErrConversationNotFound)
	}
	return s.conversationView(ctx, conv, userID, true), nil
}

// ConversationIDs lists the ids of the caller's conversations.
func (s *Service) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.store.ConversationIDs(ctx, userID)
	if err != nil {
		return nil, s.fail("conversation_ids", fmt.Errorf("list conversation ids: %w", err))
	}
	return ids, nil
}

// AppendInput is a message submission from either transport.
type AppendInput struct {
	ChatID   string
	AuthorID string
	Kind     chat.Kind
	Content  string
	PhotoID  string
	BundleID string
	Origin   Transport
	// ConnID identifies the submitting gateway connection, empty for HTTP.
	ConnID string
}

// Append validates and appends a message, then notifies live clients.
func (s *Service) Append(ctx context.Context, in AppendInput) (MessageView, error) {
	body, err := chat.NewBody(in.Kind, in.Content, in.PhotoID, in.BundleID)
	if err != nil {
		return MessageView{}, s.fail("append", err)
	}

	stored, err := s.store.AppendMessage(ctx, in.ChatID, chat.Message{
		Author:    in.AuthorID,
		Body:      body,
		CreatedAt: s.now(),
	})
	if err != nil {
		return MessageView{}, s.fail("append", fmt.Errorf("append message: %w", err))
	}

	origin := in.Origin
	if origin == "" {
		origin = TransportHTTP
	}
	metrics.RecordMessageAppended(string(origin), string(stored.Kind()))

	view := s.messageView(ctx, stored, nil, true)
	s.notifier.MessageAppended(ctx, MessageEvent{
		ChatID:  in.ChatID,
		Message: view,
		Origin:  origin,
		ConnID:  in.ConnID,
	})
	return view, nil
}

// Edit replaces the content of a message the caller wrote.
func (s *Service) Edit(ctx context.Context, chatID, messageID, userID, content string) (MessageView, error) {
	msg, err := s.edit(ctx, chatID, messageID, userID, content)
	if err != nil {
		return MessageView{}, s.fail("edit", err)
	}
	return s.messageView(ctx, msg, nil, true), nil
}

// MarkRead flags a message from the other participant as read and moves the
// caller's LastSeen to now, which clears the unread backlog of the whole
// conversation.
func (s *Service) MarkRead(ctx context.Context, chatID, messageID, userID string) (MessageView, error) {
	msg, err := s.store.MarkRead(ctx, chatID, messageID, userID, s.now())
	if err != nil {
		return MessageView{}, s.fail("mark_read", fmt.Errorf("mark read: %w", err))
	}
	return s.messageView(ctx, msg, nil, true), nil
}

// UpdateInput combines an optional edit with an optional read receipt.
type UpdateInput struct {
	ChatID     string
	MessageID  string
	UserID     string
	Content    *string
	MarkAsRead bool
}

// UpdateMessage applies the edit first; a rejected edit leaves read state
// untouched.
func (s *Service) UpdateMessage(ctx context.Context, in UpdateInput) (MessageView, error) {
	if in.Content == nil && !in.MarkAsRead {
		return MessageView{}, s.fail("update", ErrNothingToUpdate)
	}

	var (
		msg chat.Message
		err error
	)
	if in.Content != nil {
		if msg, err = s.edit(ctx, in.ChatID, in.MessageID, in.UserID, *in.Content); err != nil {
			return MessageView{}, s.fail("update", err)
		}
	}
	if in.MarkAsRead {
		if msg, err = s.store.MarkRead(ctx, in.ChatID, in.MessageID, in.UserID, s.now()); err != nil {
			return MessageView{}, s.fail("update", fmt.Errorf("mark read: %w", err))
		}
	}
	return s.messageView(ctx, msg, nil, true), nil
}

// Delete removes a message the caller wrote.
func (s *Service) Delete(ctx context.Context, chatID, messageID, userID string) error {
	err := s.store.DeleteMessage(ctx, chatID, messageID, userID, s.now())
	if errors.Is(err, chat.ErrNotAuthor) {
		return s.fail("delete", ErrDeleteForbidden)
	}
	if err != nil {
		return s.fail("delete", fmt.Errorf("delete message: %w", err))
	}
	return nil
}

// TouchLastSeen moves the caller's LastSeen marker to now and returns it.
func (s *Service) TouchLastSeen(ctx context.Context, chatID, userID string) (time.Time, error) {
	now := s.now()
	if err := s.store.TouchLastSeen(ctx, chatID, userID, now); err != nil {
		return time.Time{}, s.fail("touch_last_seen", fmt.Errorf("touch last seen: %w", err))
	}
	return now, nil
}

func (s *Service) edit(ctx context.Context, chatID, messageID, userID, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, chat.ErrContentRequired
	}
	msg, err := s.store.UpdateContent(ctx, chatID, messageID, userID, content, s.now())
	if errors.Is(err, chat.ErrNotAuthor) {
		return chat.Message{}, ErrEditForbidden
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

func (s *Service) fail(op string, err error) error {
	metrics.RecordOperationError(op, string(Classify(err)))
	return err
}
