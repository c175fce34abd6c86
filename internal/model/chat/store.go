package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists conversations. Every mutation is atomic per conversation:
// implementations never do an unguarded read-modify-write of the message log.
//
// Methods taking an acting user fail with ErrConversationNotFound when the
// conversation is missing or the user is not a participant.
type Store interface {
	// FindOrCreate returns the conversation of the unordered pair, creating it
	// with LastSeen seeded to now for requester and Epoch for counterpart.
	// The bool is true when a new conversation was created.
	FindOrCreate(ctx context.Context, requester, counterpart string, now time.Time) (Conversation, bool, error)
	Get(ctx context.Context, id string) (Conversation, error)
	// ListForUser returns the user's conversations, most recently updated first.
	ListForUser(ctx context.Context, user string) ([]Conversation, error)
	ConversationIDs(ctx context.Context, user string) ([]string, error)
	// AppendMessage pushes msg onto the log, assigning its ID.
	AppendMessage(ctx context.Context, chatID string, msg Message) (Message, error)
	// UpdateContent fails with ErrNotAuthor unless author wrote the message.
	UpdateContent(ctx context.Context, chatID, messageID, author, content string, now time.Time) (Message, error)
	// MarkRead flags the message read when reader is not its author and moves
	// the reader's LastSeen to now.
	MarkRead(ctx context.Context, chatID, messageID, reader string, now time.Time) (Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID, author string, now time.Time) error
	TouchLastSeen(ctx context.Context, chatID, user string, now time.Time) error
	Ping(ctx context.Context) error
}

// MemoryStore implements Store in process memory, suitable for development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	pairs         map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		pairs:         make(map[string]string),
	}
}

func (s *MemoryStore) FindOrCreate(_ context.Context, requester, counterpart string, now time.Time) (Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := PairKey(requester, counterpart)
	if id, ok := s.pairs[key]; ok {
		return s.conversations[id].Clone(), false, nil
	}

	conv := &Conversation{
		ID:           uuid.NewString(),
		Participants: []string{requester, counterpart},
		LastSeen: []LastSeen{
			{User: requester, Timestamp: now},
			{User: counterpart, Timestamp: Epoch},
		},
		Messages:  make([]Message, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	return conv.Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, user string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(user) {
			out = append(out, conv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ConversationIDs(ctx context.Context, user string) ([]string, error) {
	convs, err := s.ListForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, chatID string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.participantConversation(chatID, msg.Author)
	if err != nil {
		return Message{}, err
	}

	msg.ID = uuid.NewString()
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (s *MemoryStore) UpdateContent(_ context.Context, chatID, messageID, author, content string, now time.Time) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.participantConversation(chatID, author)
	if err != nil {
		return Message{}, err
	}
	idx, err := authoredMessage(conv, messageID, author)
	if err != nil {
		return Message{}, err
	}

	conv.Messages[idx].Body = WithContent(conv.Messages[idx].Body, content)
	conv.UpdatedAt = now
	return conv.Messages[idx], nil
}

func (s *MemoryStore) MarkRead(_ context.Context, chatID, messageID, reader string, now time.Time) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.participantConversation(chatID, reader)
	if err != nil {
		return Message{}, err
	}
	idx := messageIndex(conv, messageID)
	if idx < 0 {
		return Message{}, ErrMessageNotFound
	}

	if conv.Messages[idx].Author != reader {
		conv.Messages[idx].IsRead = true
	}
	conv.SetLastSeen(reader, now)
	conv.UpdatedAt = now
	return conv.Messages[idx], nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, chatID, messageID, author string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.participantConversation(chatID, author)
	if err != nil {
		return err
	}
	idx, err := authoredMessage(conv, messageID, author)
	if err != nil {
		return err
	}

	conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
	conv.UpdatedAt = now
	return nil
}

func (s *MemoryStore) TouchLastSeen(_ context.Context, chatID, user string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.participantConversation(chatID, user)
	if err != nil {
		return err
	}
	conv.SetLastSeen(user, now)
	conv.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// participantConversation must be called with s.mu held.
func (s *MemoryStore) participantConversation(chatID, user string) (*Conversation, error) {
	conv, ok := s.conversations[chatID]
	if !ok || !conv.HasParticipant(user) {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

func messageIndex(conv *Conversation, messageID string) int {
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func authoredMessage(conv *Conversation, messageID, author string) (int, error) {
	idx := messageIndex(conv, messageID)
	if idx < 0 {
		return -1, ErrMessageNotFound
	}
	if conv.Messages[idx].Author != author {
		return -1, ErrNotAuthor
	}
	return idx, nil
}
