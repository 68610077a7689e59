package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/events"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	srv := natstest.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *server.Server, prefix string) *Bus {
	t.Helper()
	bus, err := Connect(Options{URL: srv.ClientURL(), SubjectPrefix: prefix, Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func waitFor(t *testing.T, rec *events.Recorder, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(rec.Events()) >= n }, 2*time.Second, 10*time.Millisecond)
	return rec.Events()
}

func TestBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	srv := runServer(t)
	pub := connect(t, srv, "rawdati")
	sub := connect(t, srv, "rawdati")

	moved, all := new(events.Recorder), new(events.Recorder)
	_, err := sub.Subscribe(events.TopicStudentMoved, moved.Handle)
	require.NoError(t, err)
	_, err = sub.Subscribe(events.AllTopics, all.Handle)
	require.NoError(t, err)
	require.NoError(t, sub.Flush(ctx))

	require.NoError(t, pub.Publish(ctx, events.New(events.TopicStudentMoved, map[string]interface{}{"studentId": "s1"})))
	require.NoError(t, pub.Publish(ctx, events.New(events.TopicClassDeleted, map[string]interface{}{"classId": "c1"})))
	require.NoError(t, pub.Flush(ctx))

	got := waitFor(t, moved, 1)
	require.Len(t, got, 1)
	assert.Equal(t, events.TopicStudentMoved, got[0].Topic)
	assert.Equal(t, "s1", got[0].Payload["studentId"])
	assert.False(t, got[0].At.IsZero())

	waitFor(t, all, 2)
	assert.ElementsMatch(t, []string{events.TopicStudentMoved, events.TopicClassDeleted}, all.Topics())
}

func TestBus_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	srv := runServer(t)
	a := connect(t, srv, "tenant-a")
	b := connect(t, srv, "tenant-b")

	rec := new(events.Recorder)
	_, err := b.Subscribe(events.AllTopics, rec.Handle)
	require.NoError(t, err)
	require.NoError(t, b.Flush(ctx))

	require.NoError(t, a.Publish(ctx, events.New(events.TopicJobFailed, nil)))
	require.NoError(t, b.Publish(ctx, events.New(events.TopicGuardianMissing, nil)))
	require.NoError(t, a.Flush(ctx))
	require.NoError(t, b.Flush(ctx))

	waitFor(t, rec, 1)
	time.Sleep(50 * time.Millisecond)
	got := rec.Events()
	require.Len(t, got, 1)
	assert.Equal(t, events.TopicGuardianMissing, got[0].Topic)
}

func TestBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	srv := runServer(t)
	bus := connect(t, srv, "")

	rec := new(events.Recorder)
	unsubscribe, err := bus.Subscribe(events.TopicEntityDeleted, rec.Handle)
	require.NoError(t, err)
	require.NoError(t, bus.Flush(ctx))

	require.NoError(t, bus.Publish(ctx, events.New(events.TopicEntityDeleted, nil)))
	waitFor(t, rec, 1)

	unsubscribe()
	require.NoError(t, bus.Publish(ctx, events.New(events.TopicEntityDeleted, nil)))
	require.NoError(t, bus.Flush(ctx))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.Events(), 1)
}

func TestBus_PublishCancelled(t *testing.T) {
	srv := runServer(t)
	bus := connect(t, srv, "rawdati")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Publish(ctx, events.New(events.TopicJobFailed, nil)), context.Canceled)
}
