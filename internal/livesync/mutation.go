package livesync

import (
	"github.com/bwise1/civic_patrol/internal/model"
)

type MutationKind string

const (
	KindToggleLike    MutationKind = "toggle_like"
	KindAddComment    MutationKind = "add_comment"
	KindAddReply      MutationKind = "add_reply"
	KindEditComment   MutationKind = "edit_comment"
	KindDeleteComment MutationKind = "delete_comment"
	KindClaimReport   MutationKind = "claim_report"
	KindUnclaimReport MutationKind = "unclaim_report"
	KindSetPriority   MutationKind = "set_priority"
	KindSetStatus     MutationKind = "set_status"
	KindCreateReport  MutationKind = "create_report"
)

// Mutation is a user action the Coordinator can apply optimistically.
type Mutation interface {
	Kind() MutationKind
}

// ToggleLike likes the subject if the actor has not liked it yet, and
// unlikes it otherwise.
type ToggleLike struct {
	SubjectID   string            `validate:"required"`
	SubjectKind model.SubjectKind `validate:"required,oneof=report comment reply"`
}

type AddComment struct {
	ReportID string `validate:"required"`
	Text     string `validate:"notblank,max=2000"`
}

// AddReply attaches a reply to a comment or to another reply.
type AddReply struct {
	ParentID string `validate:"required"`
	Text     string `validate:"notblank,max=2000"`
}

// EditComment and DeleteComment address comments and replies alike.
type EditComment struct {
	ID   string `validate:"required"`
	Text string `validate:"notblank,max=2000"`
}

type DeleteComment struct {
	ID string `validate:"required"`
}

type ClaimReport struct {
	ReportID string `validate:"required"`
}

type UnclaimReport struct {
	ReportID string `validate:"required"`
}

type SetPriority struct {
	ReportID string `validate:"required"`
	Level    int    `validate:"priority_level"`
}

// SetStatus moves a report along the status machine. Reason is required
// when cancelling.
type SetStatus struct {
	ReportID string             `validate:"required"`
	Status   model.ReportStatus `validate:"report_status"`
	Reason   string             `validate:"max=500"`
}

// CreateReport files a new report. ImagePath, when set, is uploaded after
// the report is persisted.
type CreateReport struct {
	Title       string `validate:"notblank,max=200"`
	Description string `validate:"max=5000"`
	Category    string `validate:"required"`
	ImagePath   string
}

func (ToggleLike) Kind() MutationKind    { return KindToggleLike }
func (AddComment) Kind() MutationKind    { return KindAddComment }
func (AddReply) Kind() MutationKind      { return KindAddReply }
func (EditComment) Kind() MutationKind   { return KindEditComment }
func (DeleteComment) Kind() MutationKind { return KindDeleteComment }
func (ClaimReport) Kind() MutationKind   { return KindClaimReport }
func (UnclaimReport) Kind() MutationKind { return KindUnclaimReport }
func (SetPriority) Kind() MutationKind   { return KindSetPriority }
func (SetStatus) Kind() MutationKind     { return KindSetStatus }
func (CreateReport) Kind() MutationKind  { return KindCreateReport }

type OutcomeStatus string

const (
	Accepted OutcomeStatus = "accepted"
	Conflict OutcomeStatus = "conflict"
	Invalid  OutcomeStatus = "invalid"
	Failed   OutcomeStatus = "failed"
)

// Outcome is the result of proposing a mutation. Err is nil only when
// Status is Accepted, and otherwise matches ErrOperationFailed.
type Outcome struct {
	Status   OutcomeStatus
	Kind     MutationKind
	EntityID string
	Err      error
}

func (o Outcome) OK() bool { return o.Status == Accepted }
