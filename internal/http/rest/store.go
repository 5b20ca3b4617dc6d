package rest

import (
	"context"
	"errors"

	"github.com/bwise1/civic_patrol/internal/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("condition not met")
	ErrUpdateFailed = errors.New("no rows updated")
)

// ReportCheck inspects the locked current row of a conditional update and
// vetoes the write by returning an error.
type ReportCheck func(current model.Report) error

// Store is the persistence the collection endpoints write through. Viewer
// is the actor whose liked_by_me flags are resolved on reads.
type Store interface {
	InsertReport(ctx context.Context, r model.Report) (model.Report, bool, error)
	GetReport(ctx context.Context, id, viewer string) (model.Report, error)
	ListReports(ctx context.Context, f model.Filter, viewer string) ([]model.Report, error)
	UpdateReport(ctx context.Context, id string, patch model.Patch, cond *model.Condition, check ReportCheck, viewer string) (model.Report, error)

	InsertComment(ctx context.Context, c model.Comment) (model.Comment, int, error)
	GetComment(ctx context.Context, id, viewer string) (model.Comment, error)
	ListComments(ctx context.Context, reportID, viewer string) ([]model.Comment, error)
	EditComment(ctx context.Context, id, text string) (model.Comment, error)
	DeleteComment(ctx context.Context, id string) (model.Comment, int, error)

	InsertReply(ctx context.Context, r model.Reply) (model.Reply, error)
	GetReply(ctx context.Context, id, viewer string) (model.Reply, error)
	ListReplies(ctx context.Context, f model.Filter, viewer string) ([]model.Reply, error)
	EditReply(ctx context.Context, id, text string) (model.Reply, error)
	DeleteReply(ctx context.Context, id string) (model.Reply, error)

	// AddLike and RemoveLike report whether the like set changed along with
	// the subject's report id for event routing.
	AddLike(ctx context.Context, l model.Like) (model.Like, string, bool, error)
	RemoveLike(ctx context.Context, l model.Like) (model.Like, string, bool, error)

	ListHistory(ctx context.Context, commentID string) ([]model.EditHistoryEntry, error)
	AwardPoints(ctx context.Context, userID string, points int, reason string) error
}
