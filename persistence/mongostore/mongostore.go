// Package mongostore implements persistence.Snapshotter on top of
// go.mongodb.org/mongo-driver/v2, storing one document per project in a
// single collection behind a narrow interface over the driver, with
// bson-tagged documents and a per-call operation timeout.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/taskorchestrator/persistence"
)

const (
	defaultCollection = "project_snapshots"
	defaultTimeout     = 5 * time.Second
)

// collection is the subset of *mongodriver.Collection this package uses,
// narrowed so tests can substitute a fake.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() mongodriver.IndexView
}

// Store persists persistence.Snapshot documents in MongoDB.
type Store struct {
	coll    collection
	timeout time.Duration
}

// Options configures a Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// New builds a Store, creating the unique project_id index if absent.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "project_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("mongostore: ensure index: %w", err)
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

type snapshotDocument struct {
	ProjectID  string               `bson:"project_id"`
	Snapshot   persistence.Snapshot `bson:"snapshot"`
	StoredAt   time.Time            `bson:"stored_at"`
}

// Save implements persistence.Snapshotter.
func (s *Store) Save(ctx context.Context, snap persistence.Snapshot) error {
	if snap.ProjectID == "" {
		return errors.New("mongostore: project id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"project_id": snap.ProjectID}
	update := bson.M{
		"$set": snapshotDocument{
			ProjectID: snap.ProjectID,
			Snapshot:  snap,
			StoredAt:  time.Now().UTC(),
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: save %s: %w", snap.ProjectID, err)
	}
	return nil
}

// Load implements persistence.Snapshotter.
func (s *Store) Load(ctx context.Context, projectID string) (persistence.Snapshot, error) {
	if projectID == "" {
		return persistence.Snapshot{}, errors.New("mongostore: project id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc snapshotDocument
	if err := s.coll.FindOne(ctx, bson.M{"project_id": projectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return persistence.Snapshot{}, fmt.Errorf("mongostore: no snapshot for %s", projectID)
		}
		return persistence.Snapshot{}, fmt.Errorf("mongostore: load %s: %w", projectID, err)
	}
	return doc.Snapshot, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
