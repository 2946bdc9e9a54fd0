package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
	"goa.design/flow/sessionstore/redis"
)

func setupStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cfg := redis.DefaultConfig()
	cfg.Prefix = "test:session:"
	return redis.New(client, cfg)
}

func TestCreateAppendLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.CreateSession(ctx, "s1", "demo"))
	require.NoError(t, store.AppendEvents(ctx, "s1", []*event.Event{
		{ID: "1", Type: event.TypeUser, Payload: event.Message{Text: "hi"}},
	}))
	require.NoError(t, store.AppendEvents(ctx, "s1", []*event.Event{
		{ID: "2", Type: event.TypeAssistant, Payload: event.Message{Text: "hello"}},
	}))

	rec, err := store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "demo", rec.AppName)
	require.Len(t, rec.Events, 2)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	_, err := setupStore(t).LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	require.NoError(t, store.CreateSession(ctx, "s1", "demo"))
	require.NoError(t, store.AppendEvents(ctx, "s1", []*event.Event{{ID: "1", Type: event.TypeUser}}))
	require.NoError(t, store.CreateSession(ctx, "s1", "demo"))

	rec, err := store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rec.Events, 1)
}

func TestListSessionsFiltersByApp(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	require.NoError(t, store.CreateSession(ctx, "a", "app1"))
	require.NoError(t, store.CreateSession(ctx, "b", "app2"))

	summaries, err := store.ListSessions(ctx, "app1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "a", summaries[0].ID)
}
