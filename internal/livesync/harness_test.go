package livesync

import (
	"context"
	"testing"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	citizen = model.Identity{ActorID: "citizen-1", DisplayName: "Cleo", Role: model.RoleCitizen}
	patrolA = model.Identity{ActorID: "patrol-a", DisplayName: "Ada", Role: model.RolePatrol}
	patrolB = model.Identity{ActorID: "patrol-b", DisplayName: "Bo", Role: model.RolePatrol}
)

// client is one open view: its own cache, coordinator and dispatcher over
// the shared backend.
type client struct {
	cache *Cache
	co    *Coordinator
	disp  *Dispatcher
	logs  *observer.ObservedLogs
}

func newClient(t *testing.T, b *backend, id model.Identity, opts ...Option) *client {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	cache := NewCache()
	base := []Option{
		WithLogger(log),
		WithRetryPolicy(KindCreateReport, RetryPolicy{Attempts: 3, Backoff: time.Millisecond}),
	}
	co := NewCoordinator(cache, b.as(id.ActorID), id, append(base, opts...)...)
	disp := NewDispatcher(cache, b, WithDispatcherLogger(log))
	t.Cleanup(func() {
		disp.Close()
		co.Flush()
	})
	return &client{cache: cache, co: co, disp: disp, logs: logs}
}

func (c *client) load(t *testing.T, reportID string) {
	t.Helper()
	require.NoError(t, c.co.Load(context.Background(), reportID))
}

func (c *client) watch(t *testing.T, channel model.Channel, filter model.Filter) *Subscription {
	t.Helper()
	sub, err := c.disp.Watch(channel, filter, nil)
	require.NoError(t, err)
	return sub
}

func (c *client) watchAll(t *testing.T, filter model.Filter) {
	t.Helper()
	for _, ch := range []model.Channel{model.ChannelReportCreated, model.ChannelReportStatus, model.ChannelLikeCount, model.ChannelCommentCount} {
		c.watch(t, ch, filter)
	}
}

func (c *client) report(t *testing.T, id string) model.Report {
	t.Helper()
	r, ok := c.cache.Report(id)
	require.True(t, ok, "report %s not cached", id)
	return r
}

func (c *client) comment(t *testing.T, id string) model.Comment {
	t.Helper()
	cm, ok := c.cache.Comment(id)
	require.True(t, ok, "comment %s not cached", id)
	return cm
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func seedPendingReport(b *backend, id string) model.Report {
	return b.seedReport(model.Report{
		ID:       id,
		UserID:   citizen.ActorID,
		Title:    "Broken streetlight on Elm St",
		Category: "lighting",
		Status:   model.StatusPending,
		Priority: model.PriorityLow,
	})
}
