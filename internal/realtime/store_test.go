package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type historyStub struct {
	getPage func(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error)
	create  func(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error)
}

func (h *historyStub) GetPage(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error) {
	if h.getPage == nil {
		return repositories.HistoryPage{}, nil
	}
	return h.getPage(ctx, roomID, cursor, limit)
}

func (h *historyStub) CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
	if h.create == nil {
		return models.Message{}, nil
	}
	return h.create(ctx, roomID, senderID, draft, correlationID)
}

func testMessage(id, roomID string, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  "sender",
		Content:   "content of " + id,
		Type:      models.MessageText,
		CreatedAt: at,
	}
}

func insertEvent(msg models.Message) models.Event {
	return models.Event{Type: models.EventMessageInserted, RoomID: msg.RoomID, Message: &msg}
}

func TestApplyRemoteKeepsCanonicalOrder(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{})
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Arrival order deliberately scrambled; same timestamp for b and c so the
	// id breaks the tie.
	store.ApplyRemote(insertEvent(testMessage("c", "r1", base.Add(time.Second))))
	store.ApplyRemote(insertEvent(testMessage("a", "r1", base)))
	store.ApplyRemote(insertEvent(testMessage("b", "r1", base.Add(time.Second))))

	msgs := store.Messages("r1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{})
	msg := testMessage("m1", "r1", time.Now())

	store.ApplyRemote(insertEvent(msg))
	store.ApplyRemote(insertEvent(msg))
	store.ApplyRemote(insertEvent(msg))

	require.Len(t, store.Messages("r1"), 1)
}

func TestLoadPageMergesWithLiveEvents(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	page := repositories.HistoryPage{
		Messages: []models.Message{
			testMessage("a", "r1", base),
			testMessage("b", "r1", base.Add(time.Second)),
		},
		HasMore: false,
	}
	store := NewMessageStore("alice", &historyStub{
		getPage: func(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error) {
			return page, nil
		},
	}, StoreConfig{})

	// A live event lands before the page response and also appears inside it.
	store.ApplyRemote(insertEvent(testMessage("b", "r1", base.Add(time.Second))))

	_, err := store.LoadPage(context.Background(), "r1", "")
	require.NoError(t, err)

	msgs := store.Messages("r1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.False(t, store.HasMore("r1"))
}

func TestLoadPageAfterResetIsDropped(t *testing.T) {
	var store *MessageStore
	store = NewMessageStore("alice", &historyStub{
		getPage: func(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error) {
			// The room is torn down while the request is in flight.
			store.Reset(roomID)
			return repositories.HistoryPage{
				Messages: []models.Message{testMessage("stale", roomID, time.Now())},
			}, nil
		},
	}, StoreConfig{})

	_, err := store.LoadPage(context.Background(), "r1", "")
	require.ErrorIs(t, err, ErrStaleLoad)
	assert.Empty(t, store.Messages("r1"))
}

func TestSendConfirmReplacesOptimisticEntry(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var optimisticSeen bool
	var store *MessageStore
	store = NewMessageStore("alice", &historyStub{
		create: func(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
			// While the request is in flight the optimistic entry is already
			// visible to readers.
			msgs := store.Messages(roomID)
			optimisticSeen = len(msgs) == 1 && msgs[0].Optimistic
			canonical := testMessage("server-1", roomID, base)
			canonical.SenderID = senderID
			canonical.Content = draft.Content
			canonical.CorrelationID = correlationID
			return canonical, nil
		},
	}, StoreConfig{})

	confirmed, err := store.Send(context.Background(), "r1", models.Draft{Content: "hello"})
	require.NoError(t, err)
	assert.True(t, optimisticSeen)
	assert.Equal(t, "server-1", confirmed.ID)

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "server-1", msgs[0].ID)
	assert.False(t, msgs[0].Optimistic)
}

func TestSendFailureRollsBack(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{
		create: func(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
			return models.Message{}, assert.AnError
		},
	}, StoreConfig{})

	_, err := store.Send(context.Background(), "r1", models.Draft{Content: "hello"})
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Empty(t, store.Messages("r1"))
}

func TestSendEchoDoesNotDuplicate(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var canonical models.Message
	store := NewMessageStore("alice", &historyStub{
		create: func(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
			canonical = testMessage("server-1", roomID, base)
			canonical.CorrelationID = correlationID
			return canonical, nil
		},
	}, StoreConfig{})

	_, err := store.Send(context.Background(), "r1", models.Draft{Content: "hello"})
	require.NoError(t, err)

	// The transport echoes the insert back with the same correlation id.
	store.ApplyRemote(insertEvent(canonical))
	store.ApplyRemote(models.Event{Type: models.EventSendAck, RoomID: "r1", Ack: &models.SendAck{
		CorrelationID: canonical.CorrelationID,
		Message:       canonical,
	}})

	require.Len(t, store.Messages("r1"), 1)
}

func TestSendValidation(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{MaxContentLength: 10})

	_, err := store.Send(context.Background(), "r1", models.Draft{Content: "   "})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = store.Send(context.Background(), "r1", models.Draft{Content: "this draft is far too long"})
	require.ErrorAs(t, err, &vErr)

	assert.Empty(t, store.Messages("r1"))
}

func TestSendRateLimited(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{
		create: func(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error) {
			msg := testMessage(correlationID, roomID, time.Now())
			msg.CorrelationID = correlationID
			return msg, nil
		},
	}, StoreConfig{SendRatePerMinute: 1})

	_, err := store.Send(context.Background(), "r1", models.Draft{Content: "first"})
	require.NoError(t, err)

	_, err = store.Send(context.Background(), "r1", models.Draft{Content: "second"})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestDeleteKeepsTombstoneForRepliedMessage(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{})
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	parent := testMessage("parent", "r1", base)
	reply := testMessage("reply", "r1", base.Add(time.Second))
	parentID := parent.ID
	reply.ReplyToID = &parentID
	store.ApplyRemote(insertEvent(parent))
	store.ApplyRemote(insertEvent(reply))

	store.ApplyRemote(models.Event{Type: models.EventMessageDeleted, RoomID: "r1", Deleted: &models.MessageDeleted{MessageID: "parent"}})

	msgs := store.Messages("r1")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)

	// No reply points at the reply itself, so it vanishes outright.
	store.ApplyRemote(models.Event{Type: models.EventMessageDeleted, RoomID: "r1", Deleted: &models.MessageDeleted{MessageID: "reply"}})
	msgs = store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "parent", msgs[0].ID)
}

func TestDeleteKeepsTombstoneWhenServerReportsReplies(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{})
	store.ApplyRemote(insertEvent(testMessage("parent", "r1", time.Now())))

	// None of the replies is cached locally; the event's reply flag alone
	// must preserve the anchor.
	store.ApplyRemote(models.Event{
		Type:    models.EventMessageDeleted,
		RoomID:  "r1",
		Deleted: &models.MessageDeleted{MessageID: "parent", HasReplies: true},
	})

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)
}

func TestDeleteTombstoneAlwaysPolicy(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{TombstoneAlways: true})
	store.ApplyRemote(insertEvent(testMessage("m1", "r1", time.Now())))

	store.ApplyRemote(models.Event{Type: models.EventMessageDeleted, RoomID: "r1", Deleted: &models.MessageDeleted{MessageID: "m1"}})

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestTombstoneIsSticky(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{TombstoneAlways: true})
	msg := testMessage("m1", "r1", time.Now())
	store.ApplyRemote(insertEvent(msg))
	store.ApplyRemote(models.Event{Type: models.EventMessageDeleted, RoomID: "r1", Deleted: &models.MessageDeleted{MessageID: "m1"}})

	// A duplicate insert arriving after the delete must not resurrect it, and
	// neither may a late update.
	store.ApplyRemote(insertEvent(msg))
	store.ApplyRemote(models.Event{Type: models.EventMessageUpdated, RoomID: "r1", Message: &msg})

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)
}

func TestUpdateRefreshesContent(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{})
	msg := testMessage("m1", "r1", time.Now())
	store.ApplyRemote(insertEvent(msg))

	editedAt := time.Now()
	edited := msg
	edited.Content = "edited"
	edited.EditedAt = &editedAt
	store.ApplyRemote(models.Event{Type: models.EventMessageUpdated, RoomID: "r1", Message: &edited})

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Content)
	require.NotNil(t, msgs[0].EditedAt)
}

func TestLookupReportsTombstones(t *testing.T) {
	store := NewMessageStore("alice", &historyStub{}, StoreConfig{TombstoneAlways: true})
	store.ApplyRemote(insertEvent(testMessage("m1", "r1", time.Now())))

	live, ok := store.Lookup("r1", "m1")
	require.True(t, ok)
	assert.False(t, live.Deleted)

	store.ApplyRemote(models.Event{Type: models.EventMessageDeleted, RoomID: "r1", Deleted: &models.MessageDeleted{MessageID: "m1"}})
	live, ok = store.Lookup("r1", "m1")
	require.True(t, ok)
	assert.True(t, live.Deleted)

	_, ok = store.Lookup("r1", "missing")
	assert.False(t, ok)
}
