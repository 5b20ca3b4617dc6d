package livesync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
)

// Remote is the data provider the Coordinator writes through. Failures are
// wrapped with ErrTransient, ErrConflict, ErrNotFound or ErrRemoteRejected.
type Remote interface {
	Insert(ctx context.Context, collection model.Collection, record any) (json.RawMessage, error)
	// Update applies patch. With a non-nil cond the write only happens when
	// cond.Field is unset or equal to cond.UnsetOr; otherwise ErrConflict.
	Update(ctx context.Context, collection model.Collection, id string, patch model.Patch, cond *model.Condition) (json.RawMessage, error)
	Delete(ctx context.Context, collection model.Collection, id string) (json.RawMessage, error)
	Get(ctx context.Context, collection model.Collection, id string) (json.RawMessage, error)
	List(ctx context.Context, collection model.Collection, filter model.Filter) ([]json.RawMessage, error)
}

// Subscriber delivers change events of one channel to handler until the
// returned cancel func is called.
type Subscriber interface {
	Subscribe(channel model.Channel, filter model.Filter, handler func(model.ChangeEvent)) (func(), error)
}

type Uploader interface {
	UploadImage(ctx context.Context, filePath, folder string) (string, error)
}

type PointsAwarder interface {
	Award(ctx context.Context, userID string, points int, reason string) error
}

type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// RetryPolicy bounds how often a mutation's remote write is attempted when
// it fails with ErrTransient. Attempt n waits n*Backoff before retrying.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func defaultRetryPolicies() map[MutationKind]RetryPolicy {
	return map[MutationKind]RetryPolicy{
		KindCreateReport: {Attempts: 3, Backoff: time.Second},
	}
}
