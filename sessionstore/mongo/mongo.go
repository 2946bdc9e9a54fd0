// Package mongo implements sessionstore.Store on top of
// go.mongodb.org/mongo-driver/v2, one document per session holding its
// identity plus the JSON-encoded event log. The narrow collection/cursor
// interfaces below mirror goa-ai's own Mongo client so unit tests can
// substitute an in-memory fake instead of a live server.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
)

const (
	defaultCollection = "flow_sessions"
	defaultOpTimeout   = 5 * time.Second
)

// Options configures the Mongo-backed store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a sessionstore.Store backed by MongoDB.
type Store struct {
	coll    collection
	timeout time.Duration
}

// New returns a Store backed by the given Mongo client, ensuring the unique
// session_id index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("sessionstore/mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("sessionstore/mongo: database is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &Store{coll: wrapper, timeout: timeout}, nil
}

type sessionDocument struct {
	SessionID  string `bson:"session_id"`
	AppName    string `bson:"app_name"`
	Version    string `bson:"version"`
	EventsJSON []byte `bson:"events_json"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d sessionDocument) events() ([]*event.Event, error) {
	if len(d.EventsJSON) == 0 {
		return nil, nil
	}
	var events []*event.Event
	if err := json.Unmarshal(d.EventsJSON, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(ctx context.Context, id, appName string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"session_id": id}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id":  id,
			"app_name":    appName,
			"updated_at":  time.Now().UTC(),
			"events_json": []byte("[]"),
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// AppendEvents implements sessionstore.Store.
func (s *Store) AppendEvents(ctx context.Context, id string, events []*event.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	if err := s.coll.FindOne(ctx, bson.M{"session_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sessionstore.ErrNotFound
		}
		return err
	}
	existing, err := doc.events()
	if err != nil {
		return err
	}
	merged, err := json.Marshal(append(existing, events...))
	if err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"events_json": merged, "updated_at": time.Now().UTC()}}
	_, err = s.coll.UpdateOne(ctx, bson.M{"session_id": id}, update)
	return err
}

// LoadSession implements sessionstore.Store.
func (s *Store) LoadSession(ctx context.Context, id string) (sessionstore.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	if err := s.coll.FindOne(ctx, bson.M{"session_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sessionstore.Record{}, sessionstore.ErrNotFound
		}
		return sessionstore.Record{}, err
	}
	events, err := doc.events()
	if err != nil {
		return sessionstore.Record{}, err
	}
	return sessionstore.Record{ID: doc.SessionID, AppName: doc.AppName, Version: doc.Version, Events: events}, nil
}

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(ctx context.Context, appName string) ([]sessionstore.SessionSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"app_name": appName},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []sessionstore.SessionSummary
	for cur.Next(ctx) {
		var doc sessionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		events, err := doc.events()
		if err != nil {
			return nil, err
		}
		out = append(out, sessionstore.SessionSummary{
			ID:         doc.SessionID,
			AppName:    doc.AppName,
			Status:     sessionstore.DeriveStatus(events),
			EventCount: len(events),
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
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

func ensureIndexes(ctx context.Context, coll collection) error {
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, idx)
	return err
}

// collection captures the subset of *mongo.Collection this store uses, so
// unit tests can substitute an in-memory fake for a live server.
type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error { return r.res.Decode(val) }

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cur.Err() }
func (c mongoCursor) Next(ctx context.Context) bool    { return c.cur.Next(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
