package rest

import (
	"context"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertReport(ctx context.Context, r model.Report) (model.Report, bool, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(model.Report), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetReport(ctx context.Context, id, viewer string) (model.Report, error) {
	args := m.Called(ctx, id, viewer)
	return args.Get(0).(model.Report), args.Error(1)
}

func (m *mockStore) ListReports(ctx context.Context, f model.Filter, viewer string) ([]model.Report, error) {
	args := m.Called(ctx, f, viewer)
	return args.Get(0).([]model.Report), args.Error(1)
}

func (m *mockStore) UpdateReport(ctx context.Context, id string, patch model.Patch, cond *model.Condition, check ReportCheck, viewer string) (model.Report, error) {
	args := m.Called(ctx, id, patch, cond, check, viewer)
	return args.Get(0).(model.Report), args.Error(1)
}

func (m *mockStore) InsertComment(ctx context.Context, c model.Comment) (model.Comment, int, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(model.Comment), args.Int(1), args.Error(2)
}

func (m *mockStore) GetComment(ctx context.Context, id, viewer string) (model.Comment, error) {
	args := m.Called(ctx, id, viewer)
	return args.Get(0).(model.Comment), args.Error(1)
}

func (m *mockStore) ListComments(ctx context.Context, reportID, viewer string) ([]model.Comment, error) {
	args := m.Called(ctx, reportID, viewer)
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *mockStore) EditComment(ctx context.Context, id, text string) (model.Comment, error) {
	args := m.Called(ctx, id, text)
	return args.Get(0).(model.Comment), args.Error(1)
}

func (m *mockStore) DeleteComment(ctx context.Context, id string) (model.Comment, int, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Comment), args.Int(1), args.Error(2)
}

func (m *mockStore) InsertReply(ctx context.Context, r model.Reply) (model.Reply, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(model.Reply), args.Error(1)
}

func (m *mockStore) GetReply(ctx context.Context, id, viewer string) (model.Reply, error) {
	args := m.Called(ctx, id, viewer)
	return args.Get(0).(model.Reply), args.Error(1)
}

func (m *mockStore) ListReplies(ctx context.Context, f model.Filter, viewer string) ([]model.Reply, error) {
	args := m.Called(ctx, f, viewer)
	return args.Get(0).([]model.Reply), args.Error(1)
}

func (m *mockStore) EditReply(ctx context.Context, id, text string) (model.Reply, error) {
	args := m.Called(ctx, id, text)
	return args.Get(0).(model.Reply), args.Error(1)
}

func (m *mockStore) DeleteReply(ctx context.Context, id string) (model.Reply, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Reply), args.Error(1)
}

func (m *mockStore) AddLike(ctx context.Context, l model.Like) (model.Like, string, bool, error) {
	args := m.Called(ctx, l)
	return args.Get(0).(model.Like), args.String(1), args.Bool(2), args.Error(3)
}

func (m *mockStore) RemoveLike(ctx context.Context, l model.Like) (model.Like, string, bool, error) {
	args := m.Called(ctx, l)
	return args.Get(0).(model.Like), args.String(1), args.Bool(2), args.Error(3)
}

func (m *mockStore) ListHistory(ctx context.Context, commentID string) ([]model.EditHistoryEntry, error) {
	args := m.Called(ctx, commentID)
	return args.Get(0).([]model.EditHistoryEntry), args.Error(1)
}

func (m *mockStore) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	args := m.Called(ctx, userID, points, reason)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ev model.ChangeEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
