package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// HistoryAPI is the slice of the message-history collaborator the store
// needs: backward page reads and canonical writes.
type HistoryAPI interface {
	GetPage(ctx context.Context, roomID, cursor string, limit int) (repositories.HistoryPage, error)
	CreateMessage(ctx context.Context, roomID, senderID string, draft models.Draft, correlationID string) (models.Message, error)
}

// StoreConfig tunes the message store.
type StoreConfig struct {
	PageSize         int
	MaxContentLength int
	// SendRatePerMinute bounds sends per user; zero disables limiting.
	SendRatePerMinute int
	// TombstoneAlways keeps a placeholder for every deletion instead of only
	// for messages still referenced by a cached reply.
	TombstoneAlways bool
}

// MessageStore owns the canonical per-room message cache: deduplicated,
// sorted by (created_at, id), merged from page loads, live events and local
// optimistic sends. All mutation funnels through one merge path per room,
// serialized by that room's mutex.
type MessageStore struct {
	history HistoryAPI
	cfg     StoreConfig
	userID  string

	mu       sync.Mutex
	rooms    map[string]*roomTimeline
	limiters map[string]*rate.Limiter
}

type roomTimeline struct {
	mu   sync.Mutex
	msgs []models.Message
	// pending maps a correlation id to the optimistic entry's local id. At
	// most one optimistic entry exists per correlation id.
	pending    map[string]string
	generation int
	nextCursor string
	hasMore    bool
	loaded     bool
}

// Page is the caller-facing result of a LoadPage call.
type Page struct {
	Messages   []models.Message
	NextCursor string
	HasMore    bool
}

// NewMessageStore builds a store for one client identified by userID.
func NewMessageStore(userID string, history HistoryAPI, cfg StoreConfig) *MessageStore {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	return &MessageStore{
		history:  history,
		cfg:      cfg,
		userID:   userID,
		rooms:    make(map[string]*roomTimeline),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *MessageStore) room(roomID string) *roomTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.rooms[roomID]
	if !ok {
		rt = &roomTimeline{pending: make(map[string]string)}
		s.rooms[roomID] = rt
	}
	return rt
}

// LoadPage fetches one older page and merges it into the room cache. A
// response that comes back after the room was reset or closed is dropped and
// reported as ErrStaleLoad.
func (s *MessageStore) LoadPage(ctx context.Context, roomID, cursor string) (Page, error) {
	rt := s.room(roomID)

	rt.mu.Lock()
	generation := rt.generation
	if cursor == "" && rt.loaded {
		cursor = rt.nextCursor
	}
	rt.mu.Unlock()

	page, err := s.history.GetPage(ctx, roomID, cursor, s.cfg.PageSize)
	if err != nil {
		return Page{}, err
	}
	if ctx.Err() != nil {
		return Page{}, ctx.Err()
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.generation != generation {
		return Page{}, ErrStaleLoad
	}
	for _, msg := range page.Messages {
		rt.merge(msg)
	}
	rt.loaded = true
	rt.nextCursor = page.NextCursor
	rt.hasMore = page.HasMore
	return Page{Messages: append([]models.Message(nil), page.Messages...), NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

// HasMore reports whether older pages remain for the room.
func (s *MessageStore) HasMore(roomID string) bool {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return !rt.loaded || rt.hasMore
}

// Send validates the draft, inserts an optimistic entry visible immediately,
// then confirms it against the history API. On acknowledgment the optimistic
// entry is replaced in place by the canonical message; on failure it is
// rolled back and the error returned. Send never retries on its own.
func (s *MessageStore) Send(ctx context.Context, roomID string, draft models.Draft) (models.Message, error) {
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return models.Message{}, &ValidationError{Reason: "empty content"}
	}
	if len(draft.Content) > s.cfg.MaxContentLength {
		return models.Message{}, &ValidationError{Reason: fmt.Sprintf("content exceeds %d bytes", s.cfg.MaxContentLength)}
	}
	if !s.allowSend(s.userID) {
		return models.Message{}, ErrRateLimited
	}

	correlationID := uuid.NewString()
	optimistic := models.Message{
		ID:            "local-" + correlationID,
		RoomID:        roomID,
		SenderID:      s.userID,
		Content:       draft.Content,
		Type:          draft.Type,
		CreatedAt:     time.Now(),
		ReplyToID:     draft.ReplyToID,
		Attachments:   draft.Attachments,
		MentionIDs:    draft.MentionIDs,
		CorrelationID: correlationID,
		Optimistic:    true,
	}
	if optimistic.Type == "" {
		optimistic.Type = models.MessageText
	}

	rt := s.room(roomID)
	rt.mu.Lock()
	rt.pending[correlationID] = optimistic.ID
	rt.merge(optimistic)
	rt.mu.Unlock()

	confirmed, err := s.history.CreateMessage(ctx, roomID, s.userID, draft, correlationID)
	if err != nil {
		s.rollback(roomID, correlationID)
		observability.IncOptimisticRollback()
		return models.Message{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.confirm(roomID, correlationID, confirmed)
	return confirmed, nil
}

// ApplyRemote ingests one transport event. Events may arrive out of order or
// more than once; application is idempotent and the exposed order stays
// canonical regardless of arrival order.
func (s *MessageStore) ApplyRemote(event models.Event) {
	switch event.Type {
	case models.EventMessageInserted:
		if event.Message == nil {
			return
		}
		if event.Message.CorrelationID != "" {
			// Our own send echoed back; reconcile instead of duplicating.
			s.confirm(event.RoomID, event.Message.CorrelationID, *event.Message)
			return
		}
		rt := s.room(event.RoomID)
		rt.mu.Lock()
		rt.merge(*event.Message)
		rt.mu.Unlock()
	case models.EventMessageUpdated:
		if event.Message == nil {
			return
		}
		rt := s.room(event.RoomID)
		rt.mu.Lock()
		rt.applyUpdate(*event.Message)
		rt.mu.Unlock()
	case models.EventMessageDeleted:
		if event.Deleted == nil {
			return
		}
		rt := s.room(event.RoomID)
		rt.mu.Lock()
		// The server's reply check counts replies outside this cache too.
		rt.applyDelete(event.Deleted.MessageID, s.cfg.TombstoneAlways || event.Deleted.HasReplies)
		rt.mu.Unlock()
	case models.EventSendAck:
		if event.Ack == nil {
			return
		}
		s.confirm(event.RoomID, event.Ack.CorrelationID, event.Ack.Message)
	case models.EventPresence, models.EventTyping, models.EventStatus:
		// Owned by the presence tracker, typing coordinator and connection
		// manager respectively.
	}
}

// Messages returns the room timeline in canonical (created_at, id) order.
func (s *MessageStore) Messages(roomID string) []models.Message {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]models.Message(nil), rt.msgs...)
}

// Lookup returns the cached message by id. The search engine uses it as an
// edit/delete overlay; tombstones come back with Deleted set.
func (s *MessageStore) Lookup(roomID, messageID string) (models.Message, bool) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := range rt.msgs {
		if rt.msgs[i].ID == messageID {
			return rt.msgs[i], true
		}
	}
	return models.Message{}, false
}

// Reset clears the room cache. Any in-flight page load for the room is
// invalidated and will be dropped on arrival.
func (s *MessageStore) Reset(roomID string) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.generation++
	rt.msgs = nil
	rt.pending = make(map[string]string)
	rt.loaded = false
	rt.nextCursor = ""
	rt.hasMore = false
}

func (s *MessageStore) allowSend(userID string) bool {
	if s.cfg.SendRatePerMinute <= 0 {
		return true
	}
	s.mu.Lock()
	limiter, ok := s.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(s.cfg.SendRatePerMinute)/60.0), s.cfg.SendRatePerMinute)
		s.limiters[userID] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *MessageStore) rollback(roomID, correlationID string) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	localID, ok := rt.pending[correlationID]
	if !ok {
		return
	}
	delete(rt.pending, correlationID)
	rt.remove(localID)
}

// confirm replaces the optimistic entry carrying correlationID with the
// canonical message. The ack may arrive twice (HTTP response plus transport
// echo); the second application is a no-op merge.
func (s *MessageStore) confirm(roomID, correlationID string, confirmed models.Message) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if localID, ok := rt.pending[correlationID]; ok {
		delete(rt.pending, correlationID)
		rt.remove(localID)
	}
	confirmed.Optimistic = false
	rt.merge(confirmed)
}

// merge inserts or refreshes a message, keeping the slice sorted by
// (created_at, id). Re-applying an already-present id updates in place and
// never duplicates.
func (rt *roomTimeline) merge(msg models.Message) {
	for i := range rt.msgs {
		if rt.msgs[i].ID == msg.ID {
			// Keep tombstone state sticky: a late insert duplicate must not
			// resurrect a deleted message.
			if rt.msgs[i].Deleted {
				return
			}
			rt.msgs[i] = msg
			return
		}
	}

	at := sort.Search(len(rt.msgs), func(i int) bool {
		return msg.Before(rt.msgs[i])
	})
	rt.msgs = append(rt.msgs, models.Message{})
	copy(rt.msgs[at+1:], rt.msgs[at:])
	rt.msgs[at] = msg
}

// applyUpdate refreshes content, edited-at and reactions for a cached
// message. Updates for unknown ids are ignored; history reload will supply
// them.
func (rt *roomTimeline) applyUpdate(msg models.Message) {
	for i := range rt.msgs {
		if rt.msgs[i].ID != msg.ID {
			continue
		}
		if rt.msgs[i].Deleted {
			return
		}
		rt.msgs[i].Content = msg.Content
		rt.msgs[i].EditedAt = msg.EditedAt
		rt.msgs[i].Reactions = msg.Reactions
		rt.msgs[i].Attachments = msg.Attachments
		rt.msgs[i].MentionIDs = msg.MentionIDs
		return
	}
}

// applyDelete removes the message and its reactions. A positional tombstone
// survives while another cached message replies to it, or when the caller
// already knows replies exist, or always under TombstoneAlways.
func (rt *roomTimeline) applyDelete(messageID string, keepTombstone bool) {
	idx := -1
	for i := range rt.msgs {
		if rt.msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	keep := keepTombstone
	if !keep {
		for i := range rt.msgs {
			if rt.msgs[i].ReplyToID != nil && *rt.msgs[i].ReplyToID == messageID {
				keep = true
				break
			}
		}
	}

	if keep {
		rt.msgs[idx].Deleted = true
		rt.msgs[idx].Content = ""
		rt.msgs[idx].Reactions = nil
		rt.msgs[idx].Attachments = nil
		return
	}
	rt.msgs = append(rt.msgs[:idx], rt.msgs[idx+1:]...)
}

func (rt *roomTimeline) remove(messageID string) {
	for i := range rt.msgs {
		if rt.msgs[i].ID == messageID {
			rt.msgs = append(rt.msgs[:i], rt.msgs[i+1:]...)
			return
		}
	}
}
