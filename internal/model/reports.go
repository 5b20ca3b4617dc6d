package model

import (
	"strings"
	"time"
)

type ReportStatus string

const (
	StatusPending              ReportStatus = "pending"
	StatusInProgress           ReportStatus = "in_progress"
	StatusAwaitingVerification ReportStatus = "awaiting_verification"
	StatusVerifying            ReportStatus = "verifying"
	StatusResolved             ReportStatus = "resolved"
	StatusRejected             ReportStatus = "rejected"
	StatusCancelled            ReportStatus = "cancelled"
)

// Report is a civic issue filed by a citizen. PatrolUserID is only set while
// the report is in_progress or awaiting_verification.
type Report struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Status        ReportStatus `json:"status"`
	Priority      string       `json:"priority"`
	PriorityLevel *int         `json:"priority_level"`
	PatrolUserID  *string      `json:"patrol_user_id"`
	AssignedTo    *string      `json:"assigned_to"`
	ImageURL      string       `json:"image_url,omitempty"`
	CancelReason  string       `json:"cancel_reason,omitempty"`
	LikeCount     int          `json:"like_count"`
	CommentCount  int          `json:"comment_count"`
	LikedByMe     bool         `json:"liked_by_me"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type CreateReportRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category" validate:"required"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Report fields addressable by patches and change events.
const (
	FieldStatus        = "status"
	FieldPriority      = "priority"
	FieldPriorityLevel = "priority_level"
	FieldPatrolUserID  = "patrol_user_id"
	FieldAssignedTo    = "assigned_to"
	FieldImageURL      = "image_url"
	FieldCancelReason  = "cancel_reason"
	FieldLikeCount     = "like_count"
	FieldCommentCount  = "comment_count"
	FieldLikedByMe     = "liked_by_me"
	FieldText          = "text"
	FieldDeleted       = "is_deleted"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// PriorityForLevel maps a 1-5 priority level to its label.
func PriorityForLevel(level int) string {
	switch {
	case level >= 5:
		return PriorityUrgent
	case level == 4:
		return PriorityHigh
	case level == 3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Filter is the predicate a feed and its subscriptions share. CommentID only
// scopes reply and edit history listings.
type Filter struct {
	ReportID  string         `json:"report_id,omitempty" url:"report_id,omitempty"`
	CommentID string         `json:"comment_id,omitempty" url:"comment_id,omitempty"`
	Category  string         `json:"category,omitempty" url:"category,omitempty"`
	Status    []ReportStatus `json:"status,omitempty" url:"status,omitempty"`
	Exclude   []ReportStatus `json:"exclude,omitempty" url:"exclude,omitempty"`
	Priority  string         `json:"priority,omitempty" url:"priority,omitempty"`
	Search    string         `json:"q,omitempty" url:"q,omitempty"`
	Limit     int            `json:"limit,omitempty" url:"limit,omitempty"`
}

// Matches reports whether r satisfies every populated criterion of f.
func (f Filter) Matches(r Report) bool {
	if f.ReportID != "" && r.ID != f.ReportID {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, r.Category) {
		return false
	}
	if len(f.Status) > 0 && !hasStatus(f.Status, r.Status) {
		return false
	}
	if hasStatus(f.Exclude, r.Status) {
		return false
	}
	if f.Priority != "" && f.Priority != r.Priority {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.Title), q) && !strings.Contains(strings.ToLower(r.Description), q) {
			return false
		}
	}
	return true
}

func hasStatus(list []ReportStatus, s ReportStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
