package model

import (
	"encoding/json"
	"time"
)

// Collection names a remotely persisted table.
type Collection string

const (
	CollectionReports     Collection = "reports"
	CollectionComments    Collection = "comments"
	CollectionReplies     Collection = "replies"
	CollectionLikes       Collection = "likes"
	CollectionEditHistory Collection = "edit_history"
)

func (c Collection) Valid() bool {
	switch c {
	case CollectionReports, CollectionComments, CollectionReplies, CollectionLikes, CollectionEditHistory:
		return true
	}
	return false
}

// Channel names a push stream clients can watch.
type Channel string

const (
	ChannelReportCreated Channel = "report_created"
	ChannelReportStatus  Channel = "report_status"
	ChannelLikeCount     Channel = "like_count"
	ChannelCommentCount  Channel = "comment_count"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelReportCreated, ChannelReportStatus, ChannelLikeCount, ChannelCommentCount:
		return true
	}
	return false
}

// ChangeEvent is a pushed notification of another writer's change. Fields
// hold the new scalar values, never diffs. Record carries the full entity for
// report_created.
type ChangeEvent struct {
	Channel     Channel                    `json:"channel"`
	EntityID    string                     `json:"entity_id"`
	SubjectKind SubjectKind                `json:"subject_kind,omitempty"`
	ReportID    string                     `json:"report_id,omitempty"`
	Fields      map[string]json.RawMessage `json:"fields,omitempty"`
	Record      json.RawMessage            `json:"record,omitempty"`
	At          time.Time                  `json:"at"`
}

// Patch is a set of field assignments keyed by JSON field name.
type Patch map[string]any

// Condition guards a conditional update: Field must currently be null or
// equal to UnsetOr.
type Condition struct {
	Field   string `json:"field"`
	UnsetOr string `json:"unset_or"`
}

// UpdateRequest is the wire body of a conditional update.
type UpdateRequest struct {
	Patch     map[string]json.RawMessage `json:"patch"`
	Condition *Condition                 `json:"condition,omitempty"`
}
