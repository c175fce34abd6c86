package chat_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	model "github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/model/directory"
	"github.com/shutterhub/backend/internal/service/auth"
	chat "github.com/shutterhub/backend/internal/service/chat"
)

// stepClock advances one second per call so every mutation has a distinct time.
type stepClock struct {
	base  time.Time
	ticks atomic.Int64
}

func newStepClock() *stepClock {
	return &stepClock{base: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	return c.base.Add(time.Duration(c.ticks.Add(1)) * time.Second)
}

type recordingNotifier struct {
	mu            sync.Mutex
	messages      []chat.MessageEvent
	conversations []chat.ConversationEvent
}

func (n *recordingNotifier) MessageAppended(_ context.Context, ev chat.MessageEvent) {
	n.mu.Lock()
	n.messages = append(n.messages, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) ConversationCreated(_ context.Context, ev chat.ConversationEvent) {
	n.mu.Lock()
	n.conversations = append(n.conversations, ev)
	n.mu.Unlock()
}

type fixture struct {
	svc      *chat.Service
	store    *model.MemoryStore
	dir      *directory.MemoryDirectory
	notifier *recordingNotifier
}

func newFixture() fixture {
	store := model.NewMemoryStore()
	dir := directory.NewMemoryDirectory(
		directory.Profile{ID: "alice", Name: "Alice", UserName: "alice"},
		directory.Profile{ID: "bob", Name: "Bob", UserName: "bob"},
	)
	dir.PutPhoto(directory.PhotoSummary{ID: "photo-1", Link: "https://cdn.example/p1.jpg", Price: 10})
	dir.PutBundle(directory.BundleSummary{ID: "bundle-1", Name: "Summer", PhotoCount: 3})
	notifier := &recordingNotifier{}
	svc := chat.NewService(store, dir, chat.WithNotifier(notifier), chat.WithClock(newStepClock().Now))
	return fixture{svc: svc, store: store, dir: dir, notifier: notifier}
}

func (f fixture) conversation(t *testing.T) string {
	t.Helper()
	view, _, err := f.svc.FindOrCreate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	return view.ID
}

func (f fixture) send(t *testing.T, chatID, author, content string) chat.MessageView {
	t.Helper()
	msg, err := f.svc.Append(context.Background(), chat.AppendInput{
		ChatID: chatID, AuthorID: author, Kind: model.KindText, Content: content,
	})
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	return msg
}

func unreadFor(t *testing.T, svc *chat.Service, user, chatID string) int {
	t.Helper()
	views, err := svc.ListConversations(context.Background(), user)
	if err != nil {
		t.Fatalf("ListConversations err: %v", err)
	}
	for _, v := range views {
		if v.ID == chatID {
			return v.UnreadCount
		}
	}
	t.Fatalf("conversation %s not listed for %s", chatID, user)
	return 0
}

func TestFindOrCreateIsIdempotentPerPair(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, created, err := f.svc.FindOrCreate(ctx, "alice", "bob")
	if err != nil || !created {
		t.Fatalf("first FindOrCreate: created=%v err=%v", created, err)
	}
	second, created, err := f.svc.FindOrCreate(ctx, "bob", "alice")
	if err != nil || created {
		t.Fatalf("second FindOrCreate: created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}
	if len(f.notifier.conversations) != 1 {
		t.Fatalf("expected one creation event, got %d", len(f.notifier.conversations))
	}
	if first.Participants[0].Name != "Alice" || first.Participants[1].Name != "Bob" {
		t.Fatalf("participants not populated: %+v", first.Participants)
	}
}

func TestFindOrCreateSeedsLastSeen(t *testing.T) {
	f := newFixture()
	view, _, err := f.svc.FindOrCreate(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}

	seen := map[string]time.Time{}
	for _, ls := range view.LastSeen {
		seen[ls.User] = ls.Timestamp
	}
	if !seen["bob"].Equal(model.Epoch) {
		t.Fatalf("counterpart LastSeen = %v, want epoch", seen["bob"])
	}
	if !seen["alice"].After(model.Epoch) {
		t.Fatalf("requester LastSeen not seeded: %v", seen["alice"])
	}
}

func TestFindOrCreateValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, _, err := f.svc.FindOrCreate(ctx, "alice", "  "); !errors.Is(err, chat.ErrParticipantRequired) {
		t.Fatalf("expected ErrParticipantRequired, got %v", err)
	}
	if _, _, err := f.svc.FindOrCreate(ctx, "alice", "alice"); !errors.Is(err, chat.ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestAppendAttachmentInvariant(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()

	photo, err := f.svc.Append(ctx, chat.AppendInput{ChatID: chatID, AuthorID: "alice", Kind: model.KindPhoto, Content: "proof", PhotoID: "photo-1"})
	if err != nil {
		t.Fatalf("photo append err: %v", err)
	}
	if photo.Photo == nil || photo.Photo.Link != "https://cdn.example/p1.jpg" || photo.Bundle != nil {
		t.Fatalf("photo attachment not resolved: %+v", photo)
	}

	text, err := f.svc.Append(ctx, chat.AppendInput{ChatID: chatID, AuthorID: "alice", Kind: model.KindText, Content: "hi", PhotoID: "photo-1"})
	if err != nil {
		t.Fatalf("text append err: %v", err)
	}
	if text.Photo != nil || text.Bundle != nil {
		t.Fatalf("text message must not carry an attachment: %+v", text)
	}

	_, err = f.svc.Append(ctx, chat.AppendInput{ChatID: chatID, AuthorID: "alice", Kind: model.KindPhoto, Content: "missing"})
	if !errors.Is(err, model.ErrPhotoRequired) {
		t.Fatalf("expected ErrPhotoRequired, got %v", err)
	}
	if got := chat.HTTPStatus(err); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}

	_, err = f.svc.Append(ctx, chat.AppendInput{ChatID: chatID, AuthorID: "alice", Kind: model.KindBundle, Content: "deal"})
	if !errors.Is(err, model.ErrBundleRequired) {
		t.Fatalf("expected ErrBundleRequired, got %v", err)
	}

	conv, err := f.svc.GetConversation(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("rejected messages must not persist, got %d messages", len(conv.Messages))
	}
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)

	_, err := f.svc.Append(context.Background(), chat.AppendInput{ChatID: chatID, AuthorID: "mallory", Kind: model.KindText, Content: "hi"})
	if !errors.Is(err, model.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if got := chat.HTTPStatus(err); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
	if len(f.notifier.messages) != 0 {
		t.Fatal("rejected append must not notify")
	}
}

func TestAppendNotifiesWithOrigin(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)

	_, err := f.svc.Append(context.Background(), chat.AppendInput{
		ChatID: chatID, AuthorID: "bob", Kind: model.KindBundle, Content: "deal", BundleID: "bundle-1",
		Origin: chat.TransportSocket, ConnID: "conn-7",
	})
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}

	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected one event, got %d", len(f.notifier.messages))
	}
	ev := f.notifier.messages[0]
	if ev.ChatID != chatID || ev.Origin != chat.TransportSocket || ev.ConnID != "conn-7" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Message.CreatedBy.Name != "Bob" || ev.Message.Bundle == nil || ev.Message.Bundle.Name != "Summer" {
		t.Fatalf("event message not enriched: %+v", ev.Message)
	}
}

func TestUnreadScenario(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()

	f.send(t, chatID, "alice", "hi")

	if got := unreadFor(t, f.svc, "bob", chatID); got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}
	if got := unreadFor(t, f.svc, "alice", chatID); got != 0 {
		t.Fatalf("alice unread = %d, want 0", got)
	}

	if _, err := f.svc.TouchLastSeen(ctx, chatID, "bob"); err != nil {
		t.Fatalf("TouchLastSeen err: %v", err)
	}
	if got := unreadFor(t, f.svc, "bob", chatID); got != 0 {
		t.Fatalf("bob unread after touch = %d, want 0", got)
	}
}

func TestTouchLastSeenRequiresParticipant(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)

	if _, err := f.svc.TouchLastSeen(context.Background(), chatID, "mallory"); !errors.Is(err, model.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestOnlyAuthorMayEditOrDelete(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()
	msg := f.send(t, chatID, "alice", "original")

	_, err := f.svc.Edit(ctx, chatID, msg.ID, "bob", "hijacked")
	if !errors.Is(err, chat.ErrEditForbidden) {
		t.Fatalf("expected ErrEditForbidden, got %v", err)
	}
	if got := chat.HTTPStatus(err); got != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", got)
	}

	err = f.svc.Delete(ctx, chatID, msg.ID, "bob")
	if !errors.Is(err, chat.ErrDeleteForbidden) {
		t.Fatalf("expected ErrDeleteForbidden, got %v", err)
	}

	conv, err := f.svc.GetConversation(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "original" {
		t.Fatalf("message changed by non-author: %+v", conv.Messages)
	}

	edited, err := f.svc.Edit(ctx, chatID, msg.ID, "alice", "revised")
	if err != nil {
		t.Fatalf("author edit err: %v", err)
	}
	if edited.Content != "revised" || !edited.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("edit must change content only: %+v", edited)
	}

	if err := f.svc.Delete(ctx, chatID, msg.ID, "alice"); err != nil {
		t.Fatalf("author delete err: %v", err)
	}
	if err := f.svc.Delete(ctx, chatID, msg.ID, "alice"); !errors.Is(err, model.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound on second delete, got %v", err)
	}
}

func TestEditRejectsBlankContent(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	msg := f.send(t, chatID, "alice", "original")

	_, err := f.svc.Edit(context.Background(), chatID, msg.ID, "alice", "   ")
	if !errors.Is(err, model.ErrContentRequired) {
		t.Fatalf("expected ErrContentRequired, got %v", err)
	}
}

func TestMarkReadNeverIncreasesUnread(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()

	first := f.send(t, chatID, "alice", "one")
	f.send(t, chatID, "alice", "two")
	f.send(t, chatID, "alice", "three")

	before := unreadFor(t, f.svc, "bob", chatID)
	read, err := f.svc.MarkRead(ctx, chatID, first.ID, "bob")
	if err != nil {
		t.Fatalf("MarkRead err: %v", err)
	}
	if !read.IsRead {
		t.Fatal("expected message to be flagged read")
	}
	after := unreadFor(t, f.svc, "bob", chatID)
	if after > before {
		t.Fatalf("unread grew from %d to %d", before, after)
	}
	// LastSeen moves for the whole conversation
	if after != 0 {
		t.Fatalf("unread after mark read = %d, want 0", after)
	}
}

func TestMarkReadByAuthorKeepsFlag(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	msg := f.send(t, chatID, "alice", "mine")

	read, err := f.svc.MarkRead(context.Background(), chatID, msg.ID, "alice")
	if err != nil {
		t.Fatalf("MarkRead err: %v", err)
	}
	if read.IsRead {
		t.Fatal("author must not flag their own message read")
	}
}

func TestUpdateMessageEditRunsBeforeRead(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()
	msg := f.send(t, chatID, "alice", "original")

	content := "hijacked"
	_, err := f.svc.UpdateMessage(ctx, chat.UpdateInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", Content: &content, MarkAsRead: true})
	if !errors.Is(err, chat.ErrEditForbidden) {
		t.Fatalf("expected ErrEditForbidden, got %v", err)
	}
	if got := unreadFor(t, f.svc, "bob", chatID); got != 1 {
		t.Fatalf("rejected update must not advance LastSeen, unread = %d", got)
	}

	view, err := f.svc.UpdateMessage(ctx, chat.UpdateInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob", MarkAsRead: true})
	if err != nil {
		t.Fatalf("UpdateMessage err: %v", err)
	}
	if !view.IsRead || view.Content != "original" {
		t.Fatalf("unexpected view: %+v", view)
	}

	if _, err := f.svc.UpdateMessage(ctx, chat.UpdateInput{ChatID: chatID, MessageID: msg.ID, UserID: "bob"}); !errors.Is(err, chat.ErrNothingToUpdate) {
		t.Fatalf("expected ErrNothingToUpdate, got %v", err)
	}
}

func TestGetConversationHidesFromNonParticipant(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()

	_, errForeign := f.svc.GetConversation(ctx, "mallory", chatID)
	_, errMissing := f.svc.GetConversation(ctx, "alice", "does-not-exist")

	if !errors.Is(errForeign, model.ErrConversationNotFound) || !errors.Is(errMissing, model.ErrConversationNotFound) {
		t.Fatalf("expected not found for both, got %v and %v", errForeign, errMissing)
	}
	if chat.PublicMessage(errForeign) != chat.PublicMessage(errMissing) {
		t.Fatal("foreign and missing conversations must be indistinguishable")
	}
}

type failingDirectory struct{}

func (failingDirectory) Profile(context.Context, string) (directory.Profile, error) {
	return directory.Profile{}, errors.New("directory offline")
}

func (failingDirectory) Photo(context.Context, string) (directory.PhotoSummary, error) {
	return directory.PhotoSummary{}, errors.New("directory offline")
}

func (failingDirectory) Bundle(context.Context, string) (directory.BundleSummary, error) {
	return directory.BundleSummary{}, errors.New("directory offline")
}

func TestEnrichmentFallsBackToIDs(t *testing.T) {
	svc := chat.NewService(model.NewMemoryStore(), failingDirectory{})
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	msg, err := svc.Append(ctx, chat.AppendInput{ChatID: conv.ID, AuthorID: "alice", Kind: model.KindPhoto, Content: "look", PhotoID: "p9"})
	if err != nil {
		t.Fatalf("enrichment failure must not fail the append: %v", err)
	}
	if msg.CreatedBy.ID != "alice" || msg.Photo == nil || msg.Photo.ID != "p9" {
		t.Fatalf("expected bare-id fallback, got %+v", msg)
	}
}

// Two transports appending to one conversation at once must not lose writes.
func TestConcurrentAppendsFromBothTransports(t *testing.T) {
	f := newFixture()
	chatID := f.conversation(t)
	ctx := context.Background()

	const perTransport = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*perTransport)
	for i := 0; i < perTransport; i++ {
		for _, origin := range []chat.Transport{chat.TransportHTTP, chat.TransportSocket} {
			wg.Add(1)
			go func(i int, origin chat.Transport) {
				defer wg.Done()
				author := "alice"
				if origin == chat.TransportSocket {
					author = "bob"
				}
				_, err := f.svc.Append(ctx, chat.AppendInput{
					ChatID: chatID, AuthorID: author, Kind: model.KindText,
					Content: fmt.Sprintf("%s-%d", origin, i), Origin: origin,
				})
				errs <- err
			}(i, origin)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append err: %v", err)
		}
	}

	conv, err := f.svc.GetConversation(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if len(conv.Messages) != 2*perTransport {
		t.Fatalf("expected %d messages, got %d", 2*perTransport, len(conv.Messages))
	}
	contents := make(map[string]bool, len(conv.Messages))
	for _, m := range conv.Messages {
		contents[m.Content] = true
	}
	for i := 0; i < perTransport; i++ {
		for _, origin := range []chat.Transport{chat.TransportHTTP, chat.TransportSocket} {
			if key := fmt.Sprintf("%s-%d", origin, i); !contents[key] {
				t.Fatalf("message %s lost", key)
			}
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		cat    chat.Category
		status int
	}{
		{model.ErrInvalidKind, chat.CategoryValidation, http.StatusBadRequest},
		{fmt.Errorf("append message: %w", model.ErrConversationNotFound), chat.CategoryNotFound, http.StatusNotFound},
		{model.ErrMessageNotFound, chat.CategoryNotFound, http.StatusNotFound},
		{chat.ErrDeleteForbidden, chat.CategoryAuthorization, http.StatusForbidden},
		{auth.ErrTokenRequired, chat.CategoryAuthentication, http.StatusForbidden},
		{auth.ErrTokenInvalid, chat.CategoryAuthentication, http.StatusUnauthorized},
		{errors.New("mongo: connection reset"), chat.CategoryUnexpected, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := chat.Classify(tc.err); got != tc.cat {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.cat)
		}
		if got := chat.HTTPStatus(tc.err); got != tc.status {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}

	if got := chat.PublicMessage(errors.New("mongo: auth failed for admin")); got != "internal server error" {
		t.Fatalf("unexpected errors must be masked, got %q", got)
	}
	if got := chat.PublicMessage(fmt.Errorf("append message: %w", model.ErrConversationNotFound)); got != model.ErrConversationNotFound.Error() {
		t.Fatalf("PublicMessage = %q", got)
	}
}

func TestTimestampsUseMillisecondPrecision(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Duration{100 * time.Microsecond, 400 * time.Microsecond, 900 * time.Microsecond}
	var calls atomic.Int64
	clock := func() time.Time {
		i := int(calls.Add(1)) - 1
		if i >= len(ticks) {
			i = len(ticks) - 1
		}
		return base.Add(ticks[i])
	}

	store := model.NewMemoryStore()
	svc := chat.NewService(store, nil, chat.WithClock(clock))
	ctx := context.Background()

	conv, _, err := svc.FindOrCreate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("FindOrCreate err: %v", err)
	}
	seen, err := svc.TouchLastSeen(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("TouchLastSeen err: %v", err)
	}
	msg, err := svc.Append(ctx, chat.AppendInput{ChatID: conv.ID, AuthorID: "alice", Kind: model.KindText, Content: "hi"})
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}

	if !seen.Equal(base) || !msg.CreatedAt.Equal(base) {
		t.Fatalf("expected timestamps truncated to %s, got lastSeen=%s createdAt=%s", base, seen, msg.CreatedAt)
	}

	stored, err := store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if !stored.Messages[0].CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("stored createdAt %s differs from returned %s", stored.Messages[0].CreatedAt, msg.CreatedAt)
	}
	if got := unreadFor(t, svc, "bob", conv.ID); got != 0 {
		t.Fatalf("bob unread = %d, want 0 for a message in the same millisecond as lastSeen", got)
	}
}
