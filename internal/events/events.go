package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/metrics"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
)

// Event types, also the last subject token.
const (
	TypeMessage      = "message"
	TypeConversation = "conversation"
)

// Envelope is the wire format of one bus event.
type Envelope struct {
	Type string `json:"type"`
	// Node is the id of the publishing process.
	Node         string                         `json:"node"`
	Message      *chatservice.MessageEvent      `json:"message,omitempty"`
	Conversation *chatservice.ConversationEvent `json:"conversation,omitempty"`
}

// Subject returns the subject an event type is published on.
func Subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

// Publisher forwards committed mutations to the bus. It implements
// chatservice.Notifier.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	node   string
}

var _ chatservice.Notifier = (*Publisher)(nil)

// NewPublisher publishes on <prefix>.message and <prefix>.conversation.
func NewPublisher(conn *nats.Conn, prefix, node string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, node: node}
}

func (p *Publisher) MessageAppended(ctx context.Context, ev chatservice.MessageEvent) {
	p.publish(ctx, Envelope{Type: TypeMessage, Node: p.node, Message: &ev})
}

func (p *Publisher) ConversationCreated(ctx context.Context, ev chatservice.ConversationEvent) {
	p.publish(ctx, Envelope{Type: TypeConversation, Node: p.node, Conversation: &ev})
}

// publish never fails the caller; the mutation is already committed.
func (p *Publisher) publish(ctx context.Context, env Envelope) {
	err := p.send(env)
	metrics.RecordEventPublished(env.Type, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("component", "events").Str("type", env.Type).Msg("publish failed")
	}
}

func (p *Publisher) send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Type, err)
	}
	if err := p.conn.Publish(Subject(p.prefix, env.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", env.Type, err)
	}
	return nil
}

// Subscriber delivers bus events to a local notifier, typically the gateway
// hub. Events published by its own node are skipped since they were
// delivered locally already.
type Subscriber struct {
	conn       *nats.Conn
	prefix     string
	node       string
	target     chatservice.Notifier
	bufferSize int
}

// NewSubscriber builds a subscriber for node.
func NewSubscriber(conn *nats.Conn, prefix, node string, target chatservice.Notifier) *Subscriber {
	return &Subscriber{conn: conn, prefix: prefix, node: node, target: target, bufferSize: 1024}
}

// Serve subscribes and delivers until ctx ends. It implements suture.Service.
func (s *Subscriber) Serve(ctx context.Context) error {
	msgs := make(chan *nats.Msg, s.bufferSize)
	sub, err := s.conn.ChanSubscribe(s.prefix+".>", msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", s.prefix, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flush subscription: %w", err)
	}

	log := logging.Component("events")
	log.Info().Str("subject", s.prefix+".>").Str("node", s.node).Msg("event subscriber started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("node", s.node).Msg("event subscriber stopped")
			return ctx.Err()
		case msg := <-msgs:
			s.handle(ctx, msg.Data)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.RecordEventConsumed("unknown", "invalid")
		logging.Component("events").Warn().Err(err).Msg("dropping malformed event")
		return
	}
	if env.Node == s.node {
		metrics.RecordEventConsumed(env.Type, "skipped_self")
		return
	}

	switch {
	case env.Type == TypeMessage && env.Message != nil:
		s.target.MessageAppended(ctx, *env.Message)
	case env.Type == TypeConversation && env.Conversation != nil:
		s.target.ConversationCreated(ctx, *env.Conversation)
	default:
		metrics.RecordEventConsumed(env.Type, "invalid")
		return
	}
	metrics.RecordEventConsumed(env.Type, "delivered")
}

// String names the service in supervisor logs.
func (s *Subscriber) String() string {
	return "event-subscriber"
}
