package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrInvalidField = errors.New("invalid field")

// DecodeField turns a JSON value into the typed value a patch carries for
// field: ReportStatus, string, *int, *string, int or bool.
func DecodeField(field string, raw json.RawMessage) (any, error) {
	var err error
	switch field {
	case FieldStatus:
		var s ReportStatus
		if err = json.Unmarshal(raw, &s); err == nil && !IsKnownStatus(s) {
			err = errors.Errorf("unknown status %q", s)
		}
		return s, wrapField(field, err)
	case FieldPriority, FieldImageURL, FieldCancelReason, FieldText:
		var s string
		err = json.Unmarshal(raw, &s)
		return s, wrapField(field, err)
	case FieldPriorityLevel:
		var lvl *int
		if err = json.Unmarshal(raw, &lvl); err == nil && lvl != nil && (*lvl < 1 || *lvl > 5) {
			err = errors.Errorf("priority level %d out of range", *lvl)
		}
		return lvl, wrapField(field, err)
	case FieldPatrolUserID, FieldAssignedTo:
		var s *string
		err = json.Unmarshal(raw, &s)
		return s, wrapField(field, err)
	case FieldLikeCount, FieldCommentCount:
		var n int
		if err = json.Unmarshal(raw, &n); err == nil && n < 0 {
			err = errors.Errorf("negative count %d", n)
		}
		return n, wrapField(field, err)
	case FieldLikedByMe, FieldDeleted:
		var b bool
		err = json.Unmarshal(raw, &b)
		return b, wrapField(field, err)
	}
	return nil, errors.Wrapf(ErrInvalidField, "unknown field %q", field)
}

func wrapField(field string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrInvalidField, "%s: %v", field, err)
}

// DecodePatch decodes every field of a wire patch.
func DecodePatch(fields map[string]json.RawMessage) (Patch, error) {
	p := make(Patch, len(fields))
	for f, raw := range fields {
		v, err := DecodeField(f, raw)
		if err != nil {
			return nil, err
		}
		p[f] = v
	}
	return p, nil
}
