// Package mongo implements the optional richer conversation_memories
// long-term store named in §6.3/§3 ConversationMemory, via
// go.mongodb.org/mongo-driver/v2. Where store/postgres keeps a single
// summary string per session in a jsonb column, this store keeps one
// document per session with a summary plus free-form structured facts
// (extracted entities, preferences) a future retrieval-augmented prompt
// step could condition on — it is an additional long-term tier, not a
// replacement for the relational store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/estatecopilot/runtime/runtime/memory"
)

// Config holds connection settings for Store.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// conversationMemory is the document shape backing the conversation_memories
// collection.
type conversationMemory struct {
	SessionID string         `bson:"session_id"`
	UserID    string         `bson:"user_id,omitempty"`
	Summary   string         `bson:"summary"`
	Facts     map[string]any `bson:"facts,omitempty"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// Store implements memory.SummaryCache against a conversation_memories
// collection, plus SaveFacts/LoadFacts for the richer structured-memory
// slot this tier adds.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// New connects to MongoDB and ensures the session_id uniqueness index
// exists before returning a usable Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "conversation_memories"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("store/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store/mongo: ping: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store/mongo: create index: %w", err)
	}

	return &Store{client: client, collection: collection}, nil
}

// Close disconnects the underlying Mongo client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// GetSummary implements memory.SummaryCache.
func (s *Store) GetSummary(ctx context.Context, sessionID string) (string, bool, error) {
	var doc conversationMemory
	err := s.collection.FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store/mongo: get summary: %w", err)
	}
	if doc.Summary == "" {
		return "", false, nil
	}
	return doc.Summary, true, nil
}

// PutSummary implements memory.SummaryCache.
func (s *Store) PutSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "summary", Value: summary},
			{Key: "updated_at", Value: time.Now()},
		}}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store/mongo: put summary: %w", err)
	}
	return nil
}

// SaveFacts merges facts into a session's structured long-term memory slot,
// upserting the document if absent.
func (s *Store) SaveFacts(ctx context.Context, sessionID, userID string, facts map[string]any) error {
	set := bson.D{{Key: "updated_at", Value: time.Now()}}
	if userID != "" {
		set = append(set, bson.E{Key: "user_id", Value: userID})
	}
	for k, v := range facts {
		set = append(set, bson.E{Key: "facts." + k, Value: v})
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: "session_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: set}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store/mongo: save facts: %w", err)
	}
	return nil
}

// LoadFacts returns the structured long-term facts recorded for sessionID,
// empty (not an error) when nothing has been recorded yet.
func (s *Store) LoadFacts(ctx context.Context, sessionID string) (map[string]any, error) {
	var doc conversationMemory
	err := s.collection.FindOne(ctx, bson.D{{Key: "session_id", Value: sessionID}}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("store/mongo: load facts: %w", err)
	}
	if doc.Facts == nil {
		return map[string]any{}, nil
	}
	return doc.Facts, nil
}

var _ memory.SummaryCache = (*Store)(nil)
