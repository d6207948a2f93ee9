// Package mongostore provides a Store backed by MongoDB. Direct-pair
// uniqueness is enforced by a unique index and story expiry by a TTL index.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/talkora/chat-platform/internal/model"
	"github.com/talkora/chat-platform/internal/store"
	"github.com/talkora/chat-platform/pkg/logger"
)

const (
	collConversations = "conversations"
	collMessages      = "messages"
	collStories       = "stories"
	collUsers         = "users"
	collCounters      = "counters"

	messageSeqCounter = "message_seq"
)

// Store is a store.Store backed by a MongoDB database.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	logger   *logger.Logger
	storyTTL bool
}

// Option configures a Store.
type Option func(*Store)

// WithoutStoryTTL skips the TTL index on stories, leaving expiry to
// PurgeExpiredStories.
func WithoutStoryTTL() Option {
	return func(s *Store) { s.storyTTL = false }
}

var _ store.Store = (*Store)(nil)

// Open connects to uri, selects database and ensures indexes exist.
func Open(ctx context.Context, uri, database string, log *logger.Logger, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:   client,
		db:       client.Database(database),
		logger:   log,
		storyTTL: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("mongo store ready", zap.String("database", database))
	return s, nil
}

// EnsureIndexes creates the indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collConversations: {
			{
				Keys:    bson.D{{Key: "pair_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true).SetName("unique_direct_pair"),
			},
			{Keys: bson.D{{Key: "participants", Value: 1}}},
			{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		collUsers: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_username"),
			},
		},
		collStories: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "username", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
	if s.storyTTL {
		indexes[collStories] = append(indexes[collStories], mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("story_ttl"),
		})
	} else {
		indexes[collStories] = append(indexes[collStories], mongo.IndexModel{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		})
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) conversations() *mongo.Collection { return s.db.Collection(collConversations) }
func (s *Store) messages() *mongo.Collection      { return s.db.Collection(collMessages) }
func (s *Store) stories() *mongo.Collection       { return s.db.Collection(collStories) }
func (s *Store) users() *mongo.Collection         { return s.db.Collection(collUsers) }

func (s *Store) FindDirectConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	var c model.Conversation
	err := s.conversations().FindOne(ctx, bson.M{"pair_key": model.PairKey(a, b)}).Decode(&c)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if _, err := s.conversations().InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("conversation %s: %w", c.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.conversations().FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) SaveConversation(ctx context.Context, c *model.Conversation) error {
	res, err := s.conversations().ReplaceOne(ctx, bson.M{"_id": c.ID}, c)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("direct conversation %s: %w", c.PairKey, store.ErrConflict)
		}
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id, lastMessageID string, updatedAt time.Time) error {
	res, err := s.conversations().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"last_message_id": lastMessageID,
		"updated_at":      updatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("failed to delete messages of %s: %w", id, err)
	}
	return nil
}

func (s *Store) FindConversationsByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.conversations().Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	var docs []model.Conversation
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	out := make([]*model.Conversation, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

func (s *Store) DeleteEmptyConversations(ctx context.Context) (int, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"participants": bson.M{"$size": 0}},
		bson.M{"participants": nil},
	}}
	cur, err := s.conversations().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("failed to query empty conversations: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("failed to decode empty conversations: %w", err)
	}

	n := 0
	for _, d := range docs {
		res, err := s.conversations().DeleteOne(ctx, bson.M{"_id": d.ID, "$or": filter["$or"]})
		if err != nil {
			return n, fmt.Errorf("failed to delete conversation %s: %w", d.ID, err)
		}
		if res.DeletedCount == 0 {
			continue
		}
		if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": d.ID}); err != nil {
			return n, fmt.Errorf("failed to delete messages of %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *Store) nextSequence(ctx context.Context) (uint64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": messageSeqCounter},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate message sequence: %w", err)
	}
	return uint64(counter.Value), nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	if _, err := s.GetConversation(ctx, m.ConversationID); err != nil {
		return fmt.Errorf("conversation %s: %w", m.ConversationID, err)
	}
	seq, err := s.nextSequence(ctx)
	if err != nil {
		return err
	}
	m.Sequence = seq
	if _, err := s.messages().InsertOne(ctx, m); err != nil {
		m.Sequence = 0
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("message %s: %w", m.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.messages().FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) SaveMessage(ctx context.Context, m *model.Message) error {
	res, err := s.messages().UpdateOne(ctx, bson.M{"_id": m.ID}, bson.M{"$set": bson.M{
		"content":    m.Content,
		"media":      m.Media,
		"read_by":    m.ReadBy,
		"is_edited":  m.IsEdited,
		"is_deleted": m.IsDeleted,
		"updated_at": m.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.messages().Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	var docs []model.Message
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	out := make([]*model.Message, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

func (s *Store) FindLastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	var m model.Message
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	if err := s.messages().FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.messages().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateStory(ctx context.Context, st *model.Story) error {
	if _, err := s.stories().InsertOne(ctx, st); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("story %s: %w", st.ID, store.ErrConflict)
		}
		return fmt.Errorf("failed to insert story: %w", err)
	}
	return nil
}

func (s *Store) SaveStory(ctx context.Context, st *model.Story) error {
	res, err := s.stories().ReplaceOne(ctx, bson.M{"_id": st.ID}, st)
	if err != nil {
		return fmt.Errorf("failed to save story: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindStories(ctx context.Context, q store.StoryQuery) ([]*model.Story, error) {
	// the TTL monitor runs about once a minute, so expiry is also filtered here
	conds := bson.A{bson.M{"expires_at": bson.M{"$gt": q.ActiveAt}}}
	if q.ID != "" {
		conds = append(conds, bson.M{"_id": q.ID})
	}
	if q.UserID != "" {
		conds = append(conds, bson.M{"user_id": q.UserID})
	}
	if q.Username != "" {
		conds = append(conds, bson.M{"username": q.Username})
	}
	if len(q.UserIDs) > 0 {
		conds = append(conds, bson.M{"user_id": bson.M{"$in": q.UserIDs}})
	}
	filter := bson.M{"$and": conds}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.stories().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	var docs []model.Story
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode stories: %w", err)
	}
	out := make([]*model.Story, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

func (s *Store) PurgeExpiredStories(ctx context.Context, before time.Time) (int, error) {
	res, err := s.stories().DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge stories: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) SaveUser(ctx context.Context, u *model.User) error {
	_, err := s.users().ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("username %s: %w", u.Username, store.ErrConflict)
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.users().FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	cur, err := s.users().Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	var docs []model.User
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	byID := make(map[string]*model.User, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}
	out := make([]*model.User, 0, len(docs))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
