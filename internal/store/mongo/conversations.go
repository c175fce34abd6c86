package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/model/chat"
)

// ConversationStore implements chat.Store. Every mutation is a single
// conditional update, so concurrent writers from different processes never
// overwrite each other's messages.
type ConversationStore struct {
	client *Client
	coll   *mongo.Collection
}

var _ chat.Store = (*ConversationStore)(nil)

// NewConversationStore binds the conversations collection.
func NewConversationStore(client *Client) *ConversationStore {
	return &ConversationStore{client: client, coll: client.Database().Collection(CollectionConversations)}
}

// EnsureIndexes creates the pair uniqueness index and the listing index.
func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}},
			Options: options.Index().SetName("participants_updated"),
		},
	})
	if err != nil {
		return fmt.Errorf("create chat indexes: %w", err)
	}
	return nil
}

func (s *ConversationStore) FindOrCreate(ctx context.Context, requester, counterpart string, now time.Time) (chat.Conversation, bool, error) {
	key := chat.PairKey(requester, counterpart)
	id := primitive.NewObjectID()

	update := bson.M{"$setOnInsert": bson.M{
		"_id":          id,
		"pairKey":      key,
		"participants": bson.A{requester, counterpart},
		"lastSeen":     bson.M{requester: now, counterpart: chat.Epoch},
		"messages":     bson.A{},
		"createdAt":    now,
		"updatedAt":    now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc conversationDoc
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"pairKey": key}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost the upsert race; the winner's document is there now
		err = s.coll.FindOne(ctx, bson.M{"pairKey": key}).Decode(&doc)
	}
	if err != nil {
		return chat.Conversation{}, false, fmt.Errorf("upsert conversation: %w", err)
	}
	return doc.toModel(), doc.ID == id, nil
}

func (s *ConversationStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return chat.Conversation{}, chat.ErrConversationNotFound
	}

	var doc conversationDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Conversation{}, chat.ErrConversationNotFound
		}
		return chat.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return doc.toModel(), nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, user string) ([]chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"participants": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return decodeConversations(ctx, cur, user)
}

// decodeConversations decodes each document on its own and skips the ones
// that do not match conversationDoc, so one foreign row cannot hide the rest.
func decodeConversations(ctx context.Context, cur *mongo.Cursor, user string) ([]chat.Conversation, error) {
	defer func() { _ = cur.Close(ctx) }()

	out := make([]chat.Conversation, 0)
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("component", "store").
				Str("user", user).
				Str("doc_id", cur.Current.Lookup("_id").String()).
				Msg("skipping undecodable conversation")
			continue
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) ConversationIDs(ctx context.Context, user string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.coll.Find(ctx, bson.M{"participants": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}

	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversation ids: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID.Hex()
	}
	return ids, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, chatID string, msg chat.Message) (chat.Message, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return chat.Message{}, chat.ErrConversationNotFound
	}

	doc := newMessageDoc(msg)
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "participants": msg.Author},
		bson.M{
			"$push": bson.M{"messages": doc},
			"$set":  bson.M{"updatedAt": msg.CreatedAt},
		},
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("push message: %w", err)
	}
	if res.MatchedCount == 0 {
		return chat.Message{}, chat.ErrConversationNotFound
	}
	return doc.toModel(), nil
}

func (s *ConversationStore) UpdateContent(ctx context.Context, chatID, messageID, author, content string, now time.Time) (chat.Message, error) {
	oid, mid, err := parseIDs(chatID, messageID)
	if err != nil {
		return chat.Message{}, err
	}

	filter := bson.M{
		"_id":          oid,
		"participants": author,
		"messages":     bson.M{"$elemMatch": bson.M{"_id": mid, "created_by": author}},
	}
	update := bson.M{"$set": bson.M{"messages.$.content": content, "updatedAt": now}}

	msg, err := s.updateMessage(ctx, filter, update, mid, nil)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, s.explainMiss(ctx, oid, mid, author, true)
	}
	return msg, err
}

func (s *ConversationStore) MarkRead(ctx context.Context, chatID, messageID, reader string, now time.Time) (chat.Message, error) {
	oid, mid, err := parseIDs(chatID, messageID)
	if err != nil {
		return chat.Message{}, err
	}

	filter := bson.M{"_id": oid, "participants": reader, "messages._id": mid}
	update := bson.M{"$set": bson.M{
		"messages.$[m].isRead": true,
		"lastSeen." + reader:   now,
		"updatedAt":            now,
	}}
	// the author's own messages keep their flag
	arrayFilters := options.ArrayFilters{Filters: []interface{}{
		bson.M{"m._id": mid, "m.created_by": bson.M{"$ne": reader}},
	}}

	msg, err := s.updateMessage(ctx, filter, update, mid, &arrayFilters)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, s.explainMiss(ctx, oid, mid, reader, false)
	}
	return msg, err
}

func (s *ConversationStore) DeleteMessage(ctx context.Context, chatID, messageID, author string, now time.Time) error {
	oid, mid, err := parseIDs(chatID, messageID)
	if err != nil {
		return err
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"_id":          oid,
			"participants": author,
			"messages":     bson.M{"$elemMatch": bson.M{"_id": mid, "created_by": author}},
		},
		bson.M{
			"$pull": bson.M{"messages": bson.M{"_id": mid}},
			"$set":  bson.M{"updatedAt": now},
		},
	)
	if err != nil {
		return fmt.Errorf("pull message: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.explainMiss(ctx, oid, mid, author, true)
	}
	return nil
}

func (s *ConversationStore) TouchLastSeen(ctx context.Context, chatID, user string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return chat.ErrConversationNotFound
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "participants": user},
		bson.M{"$set": bson.M{"lastSeen." + user: now, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	if res.MatchedCount == 0 {
		return chat.ErrConversationNotFound
	}
	return nil
}

func (s *ConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// updateMessage applies update and returns the touched message. It returns
// mongo.ErrNoDocuments when filter matched nothing.
func (s *ConversationStore) updateMessage(ctx context.Context, filter, update bson.M, mid primitive.ObjectID, arrayFilters *options.ArrayFilters) (chat.Message, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"messages": bson.M{"$elemMatch": bson.M{"_id": mid}}})
	if arrayFilters != nil {
		opts.SetArrayFilters(*arrayFilters)
	}

	var doc conversationDoc
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Message{}, err
		}
		return chat.Message{}, fmt.Errorf("update message: %w", err)
	}
	if len(doc.Messages) == 0 {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	return doc.Messages[0].toModel(), nil
}

// explainMiss reads the conversation after a conditional update matched
// nothing to report why. It never mutates.
func (s *ConversationStore) explainMiss(ctx context.Context, oid, mid primitive.ObjectID, user string, authorOnly bool) error {
	var doc conversationDoc
	opts := options.FindOne().SetProjection(bson.M{
		"participants": 1,
		"messages":     bson.M{"$elemMatch": bson.M{"_id": mid}},
	})
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.ErrConversationNotFound
		}
		return fmt.Errorf("inspect conversation: %w", err)
	}

	conv := doc.toModel()
	switch {
	case !conv.HasParticipant(user):
		return chat.ErrConversationNotFound
	case len(conv.Messages) == 0:
		return chat.ErrMessageNotFound
	case authorOnly && conv.Messages[0].Author != user:
		return chat.ErrNotAuthor
	default:
		// changed between the update and this read
		return chat.ErrMessageNotFound
	}
}

func parseIDs(chatID, messageID string) (primitive.ObjectID, primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, chat.ErrConversationNotFound
	}
	mid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return primitive.NilObjectID, primitive.NilObjectID, chat.ErrMessageNotFound
	}
	return oid, mid, nil
}
