// Package pebblestore provides a durable embedded Store on top of Pebble.
//
// Key layout:
//
//	conv:<id>                 conversation JSON
//	pair:<a>:<b>              direct conversation id for a sorted pair
//	member:<user>:<conv>      participant index
//	msg:<conv>:<seq>          message JSON, seq zero-padded so keys sort in insertion order
//	msgid:<id>                msg key of a message
//	story:<id>                story JSON
//	user:<id>                 user JSON
//	meta:seq                  last assigned message sequence
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
)

var seqKey = []byte("meta:seq")

// Store is a store.Store backed by a Pebble database.
type Store struct {
	db     *pebble.DB
	logger *logger.Logger

	// mu serializes read-modify-write sequences spanning several keys
	// (pair and participant indexes, the message sequence).
	mu  sync.Mutex
	seq uint64
}

var _ store.Store = (*Store)(nil)

// Option configures Open.
type Option func(*pebble.Options)

// WithFS runs the database on fs, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) { o.FS = fs }
}

// Open opens (or creates) a Pebble database at path.
func Open(path string, log *logger.Logger, opts ...Option) (*Store, error) {
	o := &pebble.Options{}
	for _, opt := range opts {
		opt(o)
	}

	log.Info("opening pebble store", zap.String("path", path))
	db, err := pebble.Open(path, o)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}

	s := &Store{db: db, logger: log}
	raw, err := s.get(seqKey)
	switch {
	case err == nil:
		s.seq = binary.BigEndian.Uint64(raw)
	case !errors.Is(err, store.ErrNotFound):
		db.Close()
		return nil, fmt.Errorf("failed to load message sequence: %w", err)
	}
	return s, nil
}

func convKey(id string) []byte { return []byte("conv:" + id) }
func pairKey(key string) []byte { return []byte("pair:" + key) }
func memberKey(user, conv string) []byte { return []byte("member:" + user + ":" + conv) }
func memberPrefix(user string) []byte { return []byte("member:" + user + ":") }
func msgPrefix(conv string) []byte { return []byte("msg:" + conv + ":") }
func msgIDKey(id string) []byte { return []byte("msgid:" + id) }
func storyKey(id string) []byte { return []byte("story:" + id) }
func userKey(id string) []byte { return []byte("user:" + id) }
func usernameKey(name string) []byte { return []byte("username:" + name) }
func msgKey(conv string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", conv, seq))
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) getJSON(key []byte, v any) error {
	raw, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// scan calls fn for every key/value under prefix, in key order.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// convRecord persists the pair key, which the API encoding hides.
type convRecord struct {
	*model.Conversation
	PairKey string `json:"pair_key,omitempty"`
}

func setConversation(b *pebble.Batch, c *model.Conversation) error {
	return setJSON(b, convKey(c.ID), convRecord{Conversation: c, PairKey: c.PairKey})
}

func decodeConversation(raw []byte) (*model.Conversation, error) {
	var c model.Conversation
	rec := convRecord{Conversation: &c}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	c.PairKey = rec.PairKey
	return &c, nil
}

func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	id, err := s.get(pairKey(model.PairKey(a, b)))
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, string(id))
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(convKey(c.ID)); err == nil {
		return fmt.Errorf("conversation %s: %w", c.ID, store.ErrConflict)
	}
	b := s.db.NewBatch()
	defer b.Close()

	if c.PairKey != "" {
		_, err := s.get(pairKey(c.PairKey))
		if err == nil {
			return fmt.Errorf("direct conversation %s: %w", c.PairKey, store.ErrConflict)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := b.Set(pairKey(c.PairKey), []byte(c.ID), nil); err != nil {
			return err
		}
	}
	for _, p := range c.Participants {
		if err := b.Set(memberKey(p, c.ID), nil, nil); err != nil {
			return err
		}
	}
	if err := setConversation(b, c); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	raw, err := s.get(convKey(id))
	if err != nil {
		return nil, err
	}
	c, err := decodeConversation(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) SaveConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()

	if old.PairKey != c.PairKey {
		if c.PairKey != "" {
			if _, err := s.get(pairKey(c.PairKey)); err == nil {
				return fmt.Errorf("direct conversation %s: %w", c.PairKey, store.ErrConflict)
			}
			if err := b.Set(pairKey(c.PairKey), []byte(c.ID), nil); err != nil {
				return err
			}
		}
		if old.PairKey != "" {
			if err := b.Delete(pairKey(old.PairKey), nil); err != nil {
				return err
			}
		}
	}
	for _, p := range old.Participants {
		if !c.HasParticipant(p) {
			if err := b.Delete(memberKey(p, c.ID), nil); err != nil {
				return err
			}
		}
	}
	for _, p := range c.Participants {
		if !old.HasParticipant(p) {
			if err := b.Set(memberKey(p, c.ID), nil, nil); err != nil {
				return err
			}
		}
	}
	if err := setConversation(b, c); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) TouchConversation(ctx context.Context, id, lastMessageID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	c.LastMessageID = lastMessageID
	c.UpdatedAt = updatedAt

	b := s.db.NewBatch()
	defer b.Close()
	if err := setConversation(b, c); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteConversationLocked(ctx, id)
}

func (s *Store) deleteConversationLocked(ctx context.Context, id string) error {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()

	if c.PairKey != "" {
		if err := b.Delete(pairKey(c.PairKey), nil); err != nil {
			return err
		}
	}
	for _, p := range c.Participants {
		if err := b.Delete(memberKey(p, id), nil); err != nil {
			return err
		}
	}
	err = s.scan(msgPrefix(id), func(_, value []byte) error {
		var m model.Message
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		return b.Delete(msgIDKey(m.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to collect messages of %s: %w", id, err)
	}
	if err := b.DeleteRange(msgPrefix(id), prefixEnd(msgPrefix(id)), nil); err != nil {
		return err
	}
	if err := b.Delete(convKey(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) FindConversationsByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	prefix := memberPrefix(userID)
	var ids []string
	err := s.scan(prefix, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) DeleteEmptyConversations(ctx context.Context) (int, error) {
	var empty []string
	err := s.scan([]byte("conv:"), func(_, value []byte) error {
		var c model.Conversation
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		if len(c.Participants) == 0 {
			empty = append(empty, c.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range empty {
		c, err := s.GetConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		// re-check under the lock; a member may have been added since the scan
		if len(c.Participants) > 0 {
			continue
		}
		if err := s.deleteConversationLocked(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(convKey(m.ConversationID)); err != nil {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, err)
	}
	if _, err := s.get(msgIDKey(m.ID)); err == nil {
		return fmt.Errorf("message %s: %w", m.ID, store.ErrConflict)
	}

	next := s.seq + 1
	m.Sequence = next
	key := msgKey(m.ConversationID, next)

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], next)

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, m); err != nil {
		return err
	}
	if err := b.Set(msgIDKey(m.ID), key, nil); err != nil {
		return err
	}
	if err := b.Set(seqKey, seqBuf[:], nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		m.Sequence = 0
		return err
	}
	s.seq = next
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	key, err := s.get(msgIDKey(id))
	if err != nil {
		return nil, err
	}
	var m model.Message
	if err := s.getJSON(key, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) SaveMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.get(msgIDKey(m.ID))
	if err != nil {
		return err
	}
	var old model.Message
	if err := s.getJSON(key, &old); err != nil {
		return err
	}
	next := *m
	next.Sequence = old.Sequence
	next.ConversationID = old.ConversationID

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, &next); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) FindMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	out := []*model.Message{}
	err := s.scan(msgPrefix(conversationID), func(_, value []byte) error {
		var m model.Message
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conversationID, err)
	}
	return out, nil
}

func (s *Store) FindLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	prefix := msgPrefix(conversationID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, store.ErrNotFound
	}
	var m model.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return nil, fmt.Errorf("failed to decode last message of %s: %w", conversationID, err)
	}
	return &m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.get(msgIDKey(id))
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	if err := b.Delete(msgIDKey(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) CreateStory(ctx context.Context, st *model.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(storyKey(st.ID)); err == nil {
		return fmt.Errorf("story %s: %w", st.ID, store.ErrConflict)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, storyKey(st.ID), st); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) SaveStory(ctx context.Context, st *model.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(storyKey(st.ID)); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, storyKey(st.ID), st); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) FindStories(ctx context.Context, q store.StoryQuery) ([]*model.Story, error) {
	if q.ID != "" {
		var st model.Story
		err := s.getJSON(storyKey(q.ID), &st)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !q.Matches(&st) {
			return nil, nil
		}
		return []*model.Story{&st}, nil
	}

	var out []*model.Story
	err := s.scan([]byte("story:"), func(_, value []byte) error {
		var st model.Story
		if err := json.Unmarshal(value, &st); err != nil {
			return err
		}
		if q.Matches(&st) {
			out = append(out, &st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PurgeExpiredStories(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	n := 0
	err := s.scan([]byte("story:"), func(key, value []byte) error {
		var st model.Story
		if err := json.Unmarshal(value, &st); err != nil {
			return err
		}
		if st.ExpiredAt(before) {
			n++
			return b.Delete(append([]byte(nil), key...), nil)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}

// SaveUser stores u and claims its username. A username held by another
// user yields ErrConflict.
func (s *Store) SaveUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.get(usernameKey(u.Username))
	switch {
	case err == nil && string(owner) != u.ID:
		return fmt.Errorf("username %s: %w", u.Username, store.ErrConflict)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()

	old, err := s.GetUser(ctx, u.ID)
	switch {
	case err == nil && old.Username != u.Username:
		if err := b.Delete(usernameKey(old.Username), nil); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}
	if err := b.Set(usernameKey(u.Username), []byte(u.ID), nil); err != nil {
		return err
	}
	if err := setJSON(b, userKey(u.ID), u); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.getJSON(userKey(id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	out := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("pebble store is closed")
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	s.logger.Info("pebble store closed")
	return nil
}
