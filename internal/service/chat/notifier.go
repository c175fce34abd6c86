package chat

import "context"

// Transport names the entry point an operation arrived through.
type Transport string

const (
	TransportHTTP   Transport = "http"
	TransportSocket Transport = "socket"
)

// MessageEvent describes a freshly appended message.
type MessageEvent struct {
	ChatID  string      `json:"chatId"`
	Message MessageView `json:"message"`
	Origin  Transport   `json:"origin"`
	// ConnID is the gateway connection that submitted the message, if any.
	// That connection receives an ack instead of the broadcast.
	ConnID string `json:"connId,omitempty"`
}

// ConversationEvent describes a newly created conversation.
type ConversationEvent struct {
	ChatID       string   `json:"chatId"`
	Participants []string `json:"participants"`
}

// Notifier receives committed chat mutations for real-time delivery.
// Implementations must not block; delivery is best effort.
type Notifier interface {
	MessageAppended(ctx context.Context, ev MessageEvent)
	ConversationCreated(ctx context.Context, ev ConversationEvent)
}

// Notifiers fans one event out to several notifiers.
type Notifiers []Notifier

func (n Notifiers) MessageAppended(ctx context.Context, ev MessageEvent) {
	for _, notifier := range n {
		notifier.MessageAppended(ctx, ev)
	}
}

func (n Notifiers) ConversationCreated(ctx context.Context, ev ConversationEvent) {
	for _, notifier := range n {
		notifier.ConversationCreated(ctx, ev)
	}
}

type nopNotifier struct{}

func (nopNotifier) MessageAppended(context.Context, MessageEvent)          {}
func (nopNotifier) ConversationCreated(context.Context, ConversationEvent) {}
