package mongodb

import (
	"context"
	"fmt"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Sync Log Archive
// =============================================================================

const (
	collectionSyncLogs = "sync_logs"

	// 보관 기간 (TTL 인덱스)
	defaultSyncLogRetention = 90 * 24 * time.Hour
)

// SyncLogArchive mirrors finalized sync logs into MongoDB.
type SyncLogArchive struct {
	collection *mongo.Collection
	retention  time.Duration
}

func NewSyncLogArchive(db *mongo.Database, retention time.Duration) *SyncLogArchive {
	if retention <= 0 {
		retention = defaultSyncLogRetention
	}
	return &SyncLogArchive{
		collection: db.Collection(collectionSyncLogs),
		retention:  retention,
	}
}

// EnsureIndexes creates the lookup and TTL indexes.
func (a *SyncLogArchive) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "account_id", Value: 1},
				{Key: "started_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type syncLogDocument struct {
	ID         string     `bson:"id"`
	AccountID  int64      `bson:"account_id"`
	Status     string     `bson:"status"`
	StartedAt  time.Time  `bson:"started_at"`
	FinishedAt *time.Time `bson:"finished_at,omitempty"`
	DurationMS int64      `bson:"duration_ms"`
	Error      string     `bson:"error,omitempty"`

	Fetched int `bson:"fetched"`
	Created int `bson:"created"`
	Updated int `bson:"updated"`
	Errors  int `bson:"errors"`

	ExpiresAt time.Time `bson:"expires_at"`
}

func (a *SyncLogArchive) toDocument(l *domain.SyncLog) *syncLogDocument {
	end := l.StartedAt
	if l.FinishedAt != nil {
		end = *l.FinishedAt
	}
	return &syncLogDocument{
		ID:         l.ID,
		AccountID:  l.AccountID,
		Status:     string(l.Status),
		StartedAt:  l.StartedAt.UTC(),
		FinishedAt: l.FinishedAt,
		DurationMS: l.Duration.Milliseconds(),
		Error:      l.Error,
		Fetched:    l.Fetched,
		Created:    l.Created,
		Updated:    l.Updated,
		Errors:     l.Errors,
		ExpiresAt:  end.UTC().Add(a.retention),
	}
}

// Archive upserts by log id, so a repeated archive of the same run is harmless.
func (a *SyncLogArchive) Archive(ctx context.Context, l *domain.SyncLog) error {
	if l.FinishedAt == nil {
		return fmt.Errorf("sync log %s is not finalized", l.ID)
	}
	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"id": l.ID},
		a.toDocument(l),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to archive sync log: %w", err)
	}
	return nil
}

var _ out.SyncLogArchive = (*SyncLogArchive)(nil)
