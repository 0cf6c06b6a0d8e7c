package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	BACKEND_MONGO         = "mongo"
	MONGO_CONNECT_TIMEOUT = 5 * time.Second
)

type MongoOptions struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore connects lazily. Every call that finds the store disconnected makes one
// connection attempt; a network error drops the client so the next call dials again.
type MongoStore struct {
	opts   MongoOptions
	logger *slog.Logger

	mu         sync.Mutex
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoStore(opts MongoOptions, logger *slog.Logger) *MongoStore {
	return &MongoStore{opts: opts, logger: logger}
}

func (m *MongoStore) Backend() string {
	return BACKEND_MONGO
}

func (m *MongoStore) ensureConnected(ctx context.Context) (*mongo.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection != nil {
		return m.collection, nil
	}

	m.logger.Info("[MongoDB] Connecting...", slog.String("database", m.opts.Database))

	connectCtx, cancel := context.WithTimeout(ctx, MONGO_CONNECT_TIMEOUT)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(m.opts.URI).
		SetServerSelectionTimeout(MONGO_CONNECT_TIMEOUT)
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("[MongoDB] connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("[MongoDB] ping failed: %w", err)
	}

	m.client = client
	m.collection = client.Database(m.opts.Database).Collection(m.opts.Collection)
	m.logger.Info("[MongoDB] Connected",
		slog.String("database", m.opts.Database),
		slog.String("collection", m.opts.Collection))
	return m.collection, nil
}

// dropOnNetworkError forgets the client after a connection-level failure.
func (m *MongoStore) dropOnNetworkError(ctx context.Context, err error) {
	if err == nil || !(mongo.IsNetworkError(err) || mongo.IsTimeout(err)) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return
	}
	m.logger.Warn("[MongoDB] Dropping connection after network error",
		slog.String("error", err.Error()))
	_ = m.client.Disconnect(context.WithoutCancel(ctx))
	m.client = nil
	m.collection = nil
}

func (m *MongoStore) Store(ctx context.Context, results []models.AnalysisResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}

	writes := make([]mongo.WriteModel, 0, len(results))
	for _, r := range results {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.ID}).
			SetReplacement(r).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		stored := 0
		if res != nil {
			stored = int(res.UpsertedCount + res.MatchedCount)
		}
		return stored, fmt.Errorf("[MongoDB] bulk write failed: %w", err)
	}

	stored := int(res.UpsertedCount + res.MatchedCount)
	m.logger.Info("[MongoDB] Stored results",
		slog.Int("stored", stored),
		slog.Int64("upserted", res.UpsertedCount),
		slog.Int64("replaced", res.MatchedCount))
	return stored, nil
}

func toMongoFilter(filter Filter) bson.M {
	query := bson.M{}
	if name := strings.TrimSpace(filter.MovieName); name != "" {
		query[FIELD_MOVIE_NAME] = primitive.Regex{Pattern: regexp.QuoteMeta(name), Options: "i"}
	}
	if filter.Sentiment != "" {
		query[FIELD_SENTIMENT] = string(filter.Sentiment)
	}
	return query
}

func (m *MongoStore) Find(ctx context.Context, filter Filter) ([]models.AnalysisResult, error) {
	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Find(ctx, toMongoFilter(filter), options.Find().SetProjection(bson.M{"_id": 0}))
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		return nil, fmt.Errorf("[MongoDB] find failed: %w", err)
	}

	results := make([]models.AnalysisResult, 0)
	if err := cursor.All(ctx, &results); err != nil {
		m.dropOnNetworkError(ctx, err)
		return nil, fmt.Errorf("[MongoDB] decode failed: %w", err)
	}
	return results, nil
}

func (m *MongoStore) Distinct(ctx context.Context, field string) ([]string, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}

	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := coll.Distinct(ctx, field, bson.M{})
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		return nil, fmt.Errorf("[MongoDB] distinct failed: %w", err)
	}

	values := make([]models.AnalysisResult, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r := models.AnalysisResult{MovieName: s}
		if field == FIELD_SENTIMENT {
			r = models.AnalysisResult{Sentiment: models.Sentiment(s)}
		}
		values = append(values, r)
	}
	return distinctValues(values, field), nil
}

// Summarize runs the per-movie sentiment aggregation on the server.
func (m *MongoStore) Summarize(ctx context.Context, movieName string) ([]models.MovieSummary, error) {
	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{}
	if match := toMongoFilter(Filter{MovieName: movieName}); len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "movie_name", Value: "$movie_name"},
				{Key: "sentiment", Value: "$sentiment"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_confidence", Value: bson.D{{Key: "$avg", Value: "$confidence"}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$_id.movie_name"},
			{Key: "sentiments", Value: bson.D{{Key: "$push", Value: bson.D{
				{Key: "sentiment", Value: "$_id.sentiment"},
				{Key: "count", Value: "$count"},
				{Key: "avg_confidence", Value: "$avg_confidence"},
			}}}},
			{Key: "total_reviews", Value: bson.D{{Key: "$sum", Value: "$count"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		return nil, fmt.Errorf("[MongoDB] aggregate failed: %w", err)
	}

	summaries := make([]models.MovieSummary, 0)
	if err := cursor.All(ctx, &summaries); err != nil {
		m.dropOnNetworkError(ctx, err)
		return nil, fmt.Errorf("[MongoDB] decode failed: %w", err)
	}
	for i := range summaries {
		sortSentiments(summaries[i].Sentiments)
	}
	return summaries, nil
}

func (m *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, toMongoFilter(filter))
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		return 0, fmt.Errorf("[MongoDB] count failed: %w", err)
	}
	return n, nil
}

// Clear deletes every stored result. Only the admin command calls it.
func (m *MongoStore) Clear(ctx context.Context) (int64, error) {
	coll, err := m.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}

	res, err := coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		m.dropOnNetworkError(ctx, err)
		return 0, fmt.Errorf("[MongoDB] delete failed: %w", err)
	}
	m.logger.Warn("[MongoDB] Cleared results collection", slog.Int64("deleted", res.DeletedCount))
	return res.DeletedCount, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	if _, err := m.ensureConnected(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	err := client.Ping(ctx, readpref.Primary())
	m.dropOnNetworkError(ctx, err)
	return err
}

func (m *MongoStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.collection = nil
	if err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("[MongoDB] disconnect failed: %w", err)
	}
	return nil
}
