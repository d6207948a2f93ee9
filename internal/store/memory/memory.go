// Package memory provides an in-process Store backed by maps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
)

// Store keeps everything in memory. Values are cloned on the way in and out
// so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*model.Conversation
	pairs         map[string]string // pair key -> conversation id
	messages      map[string]*model.Message
	byConv        map[string][]string // conversation id -> message ids in insertion order
	stories       map[string]*model.Story
	users         map[string]*model.User
	usernames     map[string]string // username -> user id
	seq           uint64
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]*model.Message),
		byConv:        make(map[string][]string),
		stories:       make(map[string]*model.Story),
		users:         make(map[string]*model.User),
		usernames:     make(map[string]string),
	}
}

func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[model.PairKey(a, b)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.conversations[id].Clone(), nil
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[c.ID]; exists {
		return fmt.Errorf("conversation %s: %w", c.ID, store.ErrConflict)
	}
	if c.PairKey != "" {
		if _, exists := s.pairs[c.PairKey]; exists {
			return fmt.Errorf("direct conversation %s: %w", c.PairKey, store.ErrConflict)
		}
		s.pairs[c.PairKey] = c.ID
	}
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) SaveConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.conversations[c.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.PairKey != c.PairKey {
		if c.PairKey != "" {
			if _, taken := s.pairs[c.PairKey]; taken {
				return fmt.Errorf("direct conversation %s: %w", c.PairKey, store.ErrConflict)
			}
			s.pairs[c.PairKey] = c.ID
		}
		if old.PairKey != "" {
			delete(s.pairs, old.PairKey)
		}
	}
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id, lastMessageID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessageID = lastMessageID
	c.UpdatedAt = updatedAt
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteConversationLocked(id) {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) deleteConversationLocked(id string) bool {
	c, ok := s.conversations[id]
	if !ok {
		return false
	}
	if c.PairKey != "" {
		delete(s.pairs, c.PairKey)
	}
	for _, mid := range s.byConv[id] {
		delete(s.messages, mid)
	}
	delete(s.byConv, id)
	delete(s.conversations, id)
	return true
}

func (s *Store) FindConversationsByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *Store) DeleteEmptyConversations(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.conversations {
		if len(c.Participants) == 0 && s.deleteConversationLocked(id) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[m.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, store.ErrNotFound)
	}
	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("message %s: %w", m.ID, store.ErrConflict)
	}
	s.seq++
	m.Sequence = s.seq
	s.messages[m.ID] = m.Clone()
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) SaveMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.messages[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := m.Clone()
	next.Sequence = old.Sequence
	next.ConversationID = old.ConversationID
	s.messages[m.ID] = next
	return nil
}

func (s *Store) FindMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConv[conversationID]
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id].Clone())
	}
	return out, nil
}

func (s *Store) FindLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConv[conversationID]
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	return s.messages[ids[len(ids)-1]].Clone(), nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	ids := s.byConv[m.ConversationID]
	for i, mid := range ids {
		if mid == id {
			s.byConv[m.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) CreateStory(ctx context.Context, st *model.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stories[st.ID]; exists {
		return fmt.Errorf("story %s: %w", st.ID, store.ErrConflict)
	}
	s.stories[st.ID] = st.Clone()
	return nil
}

func (s *Store) SaveStory(ctx context.Context, st *model.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stories[st.ID]; !ok {
		return store.ErrNotFound
	}
	s.stories[st.ID] = st.Clone()
	return nil
}

func (s *Store) FindStories(ctx context.Context, q store.StoryQuery) ([]*model.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Story
	for _, st := range s.stories {
		if q.Matches(st) {
			out = append(out, st.Clone())
		}
	}
	sortStories(out)
	return out, nil
}

func (s *Store) PurgeExpiredStories(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, st := range s.stories {
		if st.ExpiredAt(before) {
			delete(s.stories, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.usernames[u.Username]; taken && owner != u.ID {
		return fmt.Errorf("username %s: %w", u.Username, store.ErrConflict)
	}
	if old, ok := s.users[u.ID]; ok && old.Username != u.Username {
		delete(s.usernames, old.Username)
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func sortConversations(cs []*model.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].UpdatedAt.Equal(cs[j].UpdatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].UpdatedAt.After(cs[j].UpdatedAt)
	})
}

func sortStories(ss []*model.Story) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].CreatedAt.Before(ss[j].CreatedAt)
	})
}
