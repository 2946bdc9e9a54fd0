package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
	"goa.design/flow/sessionstore/inmem"
)

func TestCreateLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.CreateSession(ctx, "sess-1", "demo"))
	require.NoError(t, store.AppendEvents(ctx, "sess-1", []*event.Event{
		{ID: "1", Type: event.TypeUser, Payload: event.Message{Text: "hi"}},
	}))

	rec, err := store.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "demo", rec.AppName)
	require.Len(t, rec.Events, 1)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	_, err := inmem.New().LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestAppendToMissingSessionReturnsErrNotFound(t *testing.T) {
	err := inmem.New().AppendEvents(context.Background(), "missing", nil)
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestListSessionsFiltersByAppAndSortsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	require.NoError(t, store.CreateSession(ctx, "a", "app1"))
	require.NoError(t, store.CreateSession(ctx, "b", "app1"))
	require.NoError(t, store.CreateSession(ctx, "c", "app2"))

	require.NoError(t, store.AppendEvents(ctx, "a", []*event.Event{{ID: "1", Type: event.TypeUser, CreatedAt: time.Unix(100, 0)}}))
	require.NoError(t, store.AppendEvents(ctx, "b", []*event.Event{{ID: "1", Type: event.TypeUser, CreatedAt: time.Unix(200, 0)}}))

	summaries, err := store.ListSessions(ctx, "app1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "b", summaries[0].ID)
	for _, sm := range summaries {
		require.Equal(t, "app1", sm.AppName)
	}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	require.NoError(t, store.CreateSession(ctx, "a", "app1"))
	require.NoError(t, store.AppendEvents(ctx, "a", []*event.Event{{ID: "1", Type: event.TypeUser}}))
	require.NoError(t, store.CreateSession(ctx, "a", "app1"))

	rec, err := store.LoadSession(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rec.Events, 1)
}
