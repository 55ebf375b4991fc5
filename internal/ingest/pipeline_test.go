package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"friendclub/internal/cache"
	"friendclub/internal/firehose"
	"friendclub/internal/repository/memory"
	"friendclub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T, resolver *testutil.MockResolver) (*Pipeline, *cache.Cache, *testutil.RecordingBroadcaster) {
	t.Helper()
	c, err := cache.New(context.Background(), memory.NewMessageRepository(), cache.DefaultSize)
	require.NoError(t, err)

	fanout := &testutil.RecordingBroadcaster{}
	p := NewPipeline(NewMapper(collection, resolver, resolver), c, fanout, 4)
	return p, c, fanout
}

func liveEvent(op, rkey string) *firehose.Event {
	ev := &firehose.Event{
		DID:    "did:plc:alice",
		TimeUS: time.Now().UnixMicro(),
		Kind:   firehose.KindCommit,
		Commit: &firehose.Commit{Operation: op, Collection: collection, RKey: rkey},
	}
	if op != firehose.OpDelete {
		ev.Commit.Record = []byte(fmt.Sprintf(`{"text":"msg %s","createdAt":%q}`, rkey, time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return ev
}

func TestPipeline_CreateThenDelete(t *testing.T) {
	ctx := context.Background()
	p, c, fanout := newPipeline(t, testutil.NewMockResolver())

	p.Handle(ctx, liveEvent(firehose.OpCreate, "abc123"))
	p.Wait()

	recent, err := c.Recent(ctx, 20)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "abc123", recent[0].ID)
	assert.Equal(t, []string{"abc123"}, fanout.CreatedIDs())

	p.Handle(ctx, liveEvent(firehose.OpDelete, "abc123"))
	p.Wait()

	recent, err = c.Recent(ctx, 20)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Equal(t, []string{"abc123"}, fanout.DeletedIDs())
}

func TestPipeline_SlowCreateDoesNotResurrectDeleted(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})

	resolver := testutil.NewMockResolver()
	resolver.ResolveHandleFunc = func(context.Context, string) (string, error) {
		<-release
		return "alice.test", nil
	}
	p, c, fanout := newPipeline(t, resolver)

	p.Handle(ctx, liveEvent(firehose.OpCreate, "abc123"))
	p.Handle(ctx, liveEvent(firehose.OpDelete, "abc123"))

	// the delete needs no resolution and completes first
	require.Eventually(t, func() bool { return len(fanout.DeletedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	p.Wait()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fanout.CreatedIDs())
}

func TestPipeline_LaterEventWinsOverSlowerEarlierOne(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})

	var calls atomic.Int32
	resolver := testutil.NewMockResolver()
	resolver.ResolveHandleFunc = func(context.Context, string) (string, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return "alice.test", nil
	}
	p, c, fanout := newPipeline(t, resolver)

	v1 := liveEvent(firehose.OpCreate, "abc123")
	v1.Commit.Record = []byte(`{"text":"v1","createdAt":"2026-03-01T12:00:00Z"}`)
	v2 := liveEvent(firehose.OpUpdate, "abc123")
	v2.Commit.Record = []byte(`{"text":"v2","createdAt":"2026-03-01T12:00:00Z"}`)

	p.Handle(ctx, v1)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.Handle(ctx, v2)

	// v2 finishes first; the stale v1 completion must not overwrite it
	require.Eventually(t, func() bool { return len(fanout.CreatedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	p.Wait()

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all[0].Text)
	assert.Equal(t, []string{"abc123"}, fanout.CreatedIDs())
}

func TestPipeline_DuplicateCreatesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newPipeline(t, testutil.NewMockResolver())

	ev := liveEvent(firehose.OpCreate, "dup")
	for i := 0; i < 5; i++ {
		p.Handle(ctx, ev)
	}
	p.Wait()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipeline_ManyCreatesStayBounded(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newPipeline(t, testutil.NewMockResolver())

	for i := 0; i < 25; i++ {
		p.Handle(ctx, liveEvent(firehose.OpCreate, fmt.Sprintf("m%02d", i)))
	}
	p.Wait()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.DefaultSize, n)
}

func TestPipeline_IgnoredEventsTouchNothing(t *testing.T) {
	ctx := context.Background()
	p, c, fanout := newPipeline(t, testutil.NewMockResolver())

	other := liveEvent(firehose.OpCreate, "x")
	other.Commit.Collection = "app.bsky.feed.like"
	p.Handle(ctx, other)
	p.Handle(ctx, &firehose.Event{Kind: firehose.KindAccount})
	p.Handle(ctx, nil)
	p.Wait()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fanout.CreatedIDs())
	assert.Empty(t, fanout.DeletedIDs())
}

func TestPipeline_SinkAdapter(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newPipeline(t, testutil.NewMockResolver())

	sink := p.Sink(ctx)
	sink(liveEvent(firehose.OpCreate, "via-sink"))
	p.Wait()

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "via-sink", all[0].ID)
}
