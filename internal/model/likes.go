package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SubjectKind string

const (
	SubjectReport  SubjectKind = "report"
	SubjectComment SubjectKind = "comment"
	SubjectReply   SubjectKind = "reply"
)

// Like is unique per (subject, user). LikeCount carries the subject's count
// after the write that produced this row.
type Like struct {
	SubjectID   string      `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	UserID      string      `json:"user_id"`
	LikeCount   int         `json:"like_count"`
	CreatedAt   time.Time   `json:"created_at"`
}

var ErrInvalidLikeID = errors.New("invalid like id")

// LikeID is the composite key a like is addressed by for deletes.
func LikeID(kind SubjectKind, subjectID, userID string) string {
	return string(kind) + ":" + subjectID + ":" + userID
}

// ParseLikeID splits a composite like key.
func ParseLikeID(id string) (SubjectKind, string, string, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", errors.Wrapf(ErrInvalidLikeID, "%q", id)
	}
	kind := SubjectKind(parts[0])
	if !kind.Valid() {
		return "", "", "", errors.Wrapf(ErrInvalidLikeID, "unknown subject kind %q", parts[0])
	}
	return kind, parts[1], parts[2], nil
}

func (k SubjectKind) Valid() bool {
	return k == SubjectReport || k == SubjectComment || k == SubjectReply
}

// Collection returns the collection that stores subjects of this kind.
func (k SubjectKind) Collection() Collection {
	switch k {
	case SubjectComment:
		return CollectionComments
	case SubjectReply:
		return CollectionReplies
	default:
		return CollectionReports
	}
}
