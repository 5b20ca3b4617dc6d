package livesync

import (
	"encoding/json"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
)

// Ref addresses one cached entity.
type Ref struct {
	Kind model.SubjectKind
	ID   string
}

func applyField(target any, field string, v any) error {
	switch t := target.(type) {
	case *model.Report:
		return applyReportField(t, field, v)
	case *model.Comment:
		return applyCommentField(t, field, v)
	case *model.Reply:
		return applyReplyField(t, field, v)
	}
	return errors.Errorf("unsupported entity %T", target)
}

func applyReportField(r *model.Report, field string, v any) error {
	switch field {
	case model.FieldStatus:
		return assign(&r.Status, field, v)
	case model.FieldPriority:
		return assign(&r.Priority, field, v)
	case model.FieldPriorityLevel:
		return assign(&r.PriorityLevel, field, v)
	case model.FieldPatrolUserID:
		return assign(&r.PatrolUserID, field, v)
	case model.FieldAssignedTo:
		return assign(&r.AssignedTo, field, v)
	case model.FieldImageURL:
		return assign(&r.ImageURL, field, v)
	case model.FieldCancelReason:
		return assign(&r.CancelReason, field, v)
	case model.FieldLikeCount:
		return assignCount(&r.LikeCount, field, v)
	case model.FieldCommentCount:
		return assignCount(&r.CommentCount, field, v)
	case model.FieldLikedByMe:
		return assign(&r.LikedByMe, field, v)
	}
	return errors.Wrapf(ErrMalformedEvent, "unknown report field %q", field)
}

func applyCommentField(c *model.Comment, field string, v any) error {
	switch field {
	case model.FieldText:
		return assign(&c.Text, field, v)
	case model.FieldLikeCount:
		return assignCount(&c.LikeCount, field, v)
	case model.FieldLikedByMe:
		return assign(&c.LikedByMe, field, v)
	case model.FieldDeleted:
		return assign(&c.Deleted, field, v)
	}
	return errors.Wrapf(ErrMalformedEvent, "unknown comment field %q", field)
}

func applyReplyField(r *model.Reply, field string, v any) error {
	switch field {
	case model.FieldText:
		return assign(&r.Text, field, v)
	case model.FieldLikeCount:
		return assignCount(&r.LikeCount, field, v)
	case model.FieldLikedByMe:
		return assign(&r.LikedByMe, field, v)
	case model.FieldDeleted:
		return assign(&r.Deleted, field, v)
	}
	return errors.Wrapf(ErrMalformedEvent, "unknown reply field %q", field)
}

func assign[T any](dst *T, field string, v any) error {
	t, ok := v.(T)
	if !ok {
		return errors.Wrapf(ErrMalformedEvent, "field %q: unexpected value %T", field, v)
	}
	*dst = t
	return nil
}

func assignCount(dst *int, field string, v any) error {
	n, ok := v.(int)
	if !ok {
		return errors.Wrapf(ErrMalformedEvent, "field %q: unexpected value %T", field, v)
	}
	if n < 0 {
		return errors.Wrapf(ErrMalformedEvent, "field %q: negative count %d", field, n)
	}
	*dst = n
	return nil
}

func decodePatch(fields map[string]json.RawMessage) (model.Patch, error) {
	p, err := model.DecodePatch(fields)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	return p, nil
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

var noString = (*string)(nil)

// reportValues picks the fields named in keys from a server report.
func reportValues(r model.Report, keys model.Patch) model.Patch {
	out := make(model.Patch, len(keys))
	for f := range keys {
		switch f {
		case model.FieldStatus:
			out[f] = r.Status
		case model.FieldPriority:
			out[f] = r.Priority
		case model.FieldPriorityLevel:
			out[f] = r.PriorityLevel
		case model.FieldPatrolUserID:
			out[f] = r.PatrolUserID
		case model.FieldAssignedTo:
			out[f] = r.AssignedTo
		case model.FieldImageURL:
			out[f] = r.ImageURL
		case model.FieldCancelReason:
			out[f] = r.CancelReason
		case model.FieldLikeCount:
			out[f] = max(r.LikeCount, 0)
		case model.FieldCommentCount:
			out[f] = max(r.CommentCount, 0)
		}
	}
	return out
}

func likeState(v any) (count int, liked bool) {
	switch e := v.(type) {
	case *model.Report:
		return e.LikeCount, e.LikedByMe
	case *model.Comment:
		return e.LikeCount, e.LikedByMe
	case *model.Reply:
		return e.LikeCount, e.LikedByMe
	}
	return 0, false
}

func authorOf(v any) (userID, text string) {
	switch e := v.(type) {
	case *model.Comment:
		return e.UserID, e.Text
	case *model.Reply:
		return e.UserID, e.Text
	}
	return "", ""
}
