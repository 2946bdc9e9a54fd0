package mongo

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type fakeSingleResult struct {
	doc *sessionDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	typed, ok := val.(*sessionDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = *r.doc
	return nil
}

type fakeCursor struct {
	docs []sessionDocument
	idx  int
}

func newFakeCursor(docs []sessionDocument) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(context.Context) error { return nil }
func (c *fakeCursor) Err() error                   { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	c.idx++
	return c.idx < len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	typed, ok := val.(*sessionDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = c.docs[c.idx]
	return nil
}

type fakeIndexView struct {
	created *int
}

func (v fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	*v.created++
	return "session_id_idx", nil
}

type fakeCollection struct {
	mu           sync.Mutex
	docs         map[string]sessionDocument
	indexCreated int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]sessionDocument)}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appName, _ := filter.(bson.M)["app_name"].(string)
	var matched []sessionDocument
	for _, doc := range c.docs {
		if doc.AppName == appName {
			matched = append(matched, doc)
		}
	}
	return newFakeCursor(matched), nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := filter.(bson.M)["session_id"].(string)
	doc, exists := c.docs[id]

	up := update.(bson.M)
	if soi, ok := up["$setOnInsert"].(bson.M); ok && !exists {
		if v, ok := soi["session_id"].(string); ok {
			doc.SessionID = v
		}
		if v, ok := soi["app_name"].(string); ok {
			doc.AppName = v
		}
		if v, ok := soi["events_json"].([]byte); ok {
			doc.EventsJSON = v
		}
		if v, ok := soi["updated_at"]; ok {
			doc.UpdatedAt = v.(time.Time)
		}
	} else if !exists {
		return nil, mongodriver.ErrNoDocuments
	}

	if set, ok := up["$set"].(bson.M); ok {
		if v, ok := set["events_json"].([]byte); ok {
			doc.EventsJSON = v
		}
		if v, ok := set["updated_at"]; ok {
			doc.UpdatedAt = v.(time.Time)
		}
	}

	c.docs[id] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{created: &c.indexCreated}
}
