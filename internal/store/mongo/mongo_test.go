package mongo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/model/directory"
)

// openTestStore connects to MONGO_TEST_URI and skips when it is unset or unreachable.
func openTestStore(t *testing.T) (*ConversationStore, *Client) {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("skipping: MONGO_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dbName := fmt.Sprintf("chat_test_%d", time.Now().UnixNano())
	client, err := Connect(ctx, Config{URI: uri, Database: dbName, Timeout: 3 * time.Second})
	if err != nil {
		t.Skipf("skipping: mongo unreachable: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database().Drop(ctx)
		_ = client.Close(ctx)
	})

	store := NewConversationStore(client)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store, client
}

func TestConversationStoreFindOrCreate(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first, created, err := store.FindOrCreate(ctx, "alice", "bob", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.LastSeenFor("alice").Equal(now))
	assert.True(t, first.LastSeenFor("bob").Equal(chat.Epoch))

	second, created, err := store.FindOrCreate(ctx, "bob", "alice", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestConversationStoreFindOrCreateRace(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := store.FindOrCreate(ctx, "carol", "dave", time.Now())
			assert.NoError(t, err)
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestConversationStoreConcurrentAppends(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	conv, _, err := store.FindOrCreate(ctx, "alice", "bob", time.Now())
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			author := "alice"
			if i%2 == 1 {
				author = "bob"
			}
			_, err := store.AppendMessage(ctx, conv.ID, chat.Message{
				Author:    author,
				Body:      chat.TextBody{Content: fmt.Sprintf("m-%d", i)},
				CreatedAt: time.Now().UTC(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, n)
}

func TestConversationStoreGuards(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	conv, _, err := store.FindOrCreate(ctx, "alice", "bob", now)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, conv.ID, chat.Message{Author: "mallory", Body: chat.TextBody{Content: "x"}, CreatedAt: now})
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)

	msg, err := store.AppendMessage(ctx, conv.ID, chat.Message{Author: "alice", Body: chat.PhotoBody{Content: "look", PhotoID: "p1"}, CreatedAt: now})
	require.NoError(t, err)

	_, err = store.UpdateContent(ctx, conv.ID, msg.ID, "bob", "hijacked", now)
	assert.ErrorIs(t, err, chat.ErrNotAuthor)
	assert.ErrorIs(t, store.DeleteMessage(ctx, conv.ID, msg.ID, "bob", now), chat.ErrNotAuthor)
	_, err = store.UpdateContent(ctx, conv.ID, primitive.NewObjectID().Hex(), "alice", "x", now)
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
	_, err = store.UpdateContent(ctx, conv.ID, msg.ID, "mallory", "x", now)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)

	edited, err := store.UpdateContent(ctx, conv.ID, msg.ID, "alice", "revised", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "revised", edited.Content())
	assert.Equal(t, chat.PhotoBody{Content: "revised", PhotoID: "p1"}, edited.Body)

	own, err := store.MarkRead(ctx, conv.ID, msg.ID, "alice", now)
	require.NoError(t, err)
	assert.False(t, own.IsRead)

	read, err := store.MarkRead(ctx, conv.ID, msg.ID, "bob", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeenFor("bob").Equal(now.Add(2*time.Second)))

	require.NoError(t, store.DeleteMessage(ctx, conv.ID, msg.ID, "alice", now))
	got, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)

	_, err = store.Get(ctx, "not-an-object-id")
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
	assert.ErrorIs(t, store.TouchLastSeen(ctx, conv.ID, "mallory", now), chat.ErrConversationNotFound)
}

func TestDirectoryLookups(t *testing.T) {
	_, client := openTestStore(t)
	ctx := context.Background()
	db := client.Database()

	userID := primitive.NewObjectID()
	photoID := primitive.NewObjectID()
	bundleID := primitive.NewObjectID()
	_, err := db.Collection(CollectionUsers).InsertOne(ctx, bson.M{"_id": userID, "name": "Mara", "user_name": "mara", "profile_picture": "p.jpg", "password": "hash"})
	require.NoError(t, err)
	_, err = db.Collection(CollectionPhotos).InsertOne(ctx, bson.M{"_id": photoID, "link": "l.jpg", "price": 12.5, "created_by": userID})
	require.NoError(t, err)
	_, err = db.Collection(CollectionBundles).InsertOne(ctx, bson.M{"_id": bundleID, "name": "Dusk", "price": 40, "photos": bson.A{photoID, primitive.NewObjectID()}, "cover_photo": photoID})
	require.NoError(t, err)

	dir := NewDirectory(client)

	profile, err := dir.Profile(ctx, userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, directory.Profile{ID: userID.Hex(), Name: "Mara", UserName: "mara", ProfilePicture: "p.jpg"}, profile)

	photo, err := dir.Photo(ctx, photoID.Hex())
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), photo.CreatedBy)

	bundle, err := dir.Bundle(ctx, bundleID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 2, bundle.PhotoCount)
	assert.Equal(t, photoID.Hex(), bundle.CoverPhoto)

	_, err = dir.Profile(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, directory.ErrNotFound)
	_, err = dir.Photo(ctx, "bogus")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestLastSeenListOrdersByParticipant(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := lastSeenList([]string{"b", "a"}, map[string]time.Time{"a": t0, "b": t0.Add(time.Hour), "z": t0})

	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].User)
	assert.Equal(t, "a", got[1].User)
	assert.Equal(t, "z", got[2].User)
}

func TestConversationDocRoundTripKeepsUnreadCount(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ms := func(d time.Duration) time.Time { return base.Add(d).Truncate(time.Millisecond) }

	conv := conversationDoc{
		ID:           primitive.NewObjectID(),
		PairKey:      chat.PairKey("alice", "bob"),
		Participants: []string{"alice", "bob"},
		LastSeen:     map[string]time.Time{"alice": ms(0), "bob": ms(400 * time.Microsecond)},
		Messages: []messageDoc{
			newMessageDoc(chat.Message{Author: "alice", Body: chat.TextBody{Content: "same ms"}, CreatedAt: ms(900 * time.Microsecond)}),
			newMessageDoc(chat.Message{Author: "alice", Body: chat.TextBody{Content: "next ms"}, CreatedAt: ms(1500 * time.Microsecond)}),
		},
		CreatedAt: ms(0),
		UpdatedAt: ms(1500 * time.Microsecond),
	}
	before := conv.toModel()

	raw, err := bson.Marshal(conv)
	require.NoError(t, err)
	var decoded conversationDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	after := decoded.toModel()

	assert.Equal(t, 1, chat.UnreadCount(before, "bob"))
	assert.Equal(t, chat.UnreadCount(before, "bob"), chat.UnreadCount(after, "bob"))
	for i := range before.Messages {
		assert.True(t, before.Messages[i].CreatedAt.Equal(after.Messages[i].CreatedAt), "message %d createdAt", i)
	}
	assert.True(t, before.LastSeenFor("bob").Equal(after.LastSeenFor("bob")))
}

func TestDecodeConversationsSkipsLegacyDocuments(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := bson.M{
		"_id":          primitive.NewObjectID(),
		"pairKey":      chat.PairKey("alice", "bob"),
		"participants": bson.A{"alice", "bob"},
		"lastSeen":     bson.M{"alice": now, "bob": chat.Epoch},
		"messages":     bson.A{},
		"createdAt":    now,
		"updatedAt":    now,
	}
	legacy := bson.M{
		"_id":          primitive.NewObjectID(),
		"participants": bson.A{"alice", "carol"},
		"lastSeen":     bson.A{bson.M{"user": "alice", "timestamp": now}},
		"messages":     bson.A{},
	}

	cur, err := mongo.NewCursorFromDocuments([]interface{}{legacy, current}, nil, nil)
	require.NoError(t, err)

	convs, err := decodeConversations(context.Background(), cur, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, current["_id"].(primitive.ObjectID).Hex(), convs[0].ID)
	assert.Equal(t, []string{"alice", "bob"}, convs[0].Participants)
}
