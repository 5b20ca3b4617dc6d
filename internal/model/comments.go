package model

import (
	"time"
)

type CommentType string

const (
	CommentTypeComment      CommentType = "comment"
	CommentTypeAssignment   CommentType = "assignment"
	CommentTypeStatusUpdate CommentType = "status_update"
)

type Comment struct {
	ID        string      `json:"id"`
	ReportID  string      `json:"report_id"`
	UserID    string      `json:"user_id"`
	Text      string      `json:"text"`
	Type      CommentType `json:"type"`
	LikeCount int         `json:"like_count"`
	LikedByMe bool        `json:"liked_by_me"`
	Deleted   bool        `json:"is_deleted"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Reply hangs off a comment or another reply. CommentID is the root comment
// of the thread regardless of depth.
type Reply struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	CommentID string    `json:"comment_id"`
	ReportID  string    `json:"report_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	LikeCount int       `json:"like_count"`
	LikedByMe bool      `json:"liked_by_me"`
	Deleted   bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// EditHistoryEntry records the text a comment or reply held before an edit.
type EditHistoryEntry struct {
	ID           string    `json:"id"`
	CommentID    string    `json:"comment_id"`
	PreviousText string    `json:"previous_text"`
	EditedAt     time.Time `json:"edited_at"`
}
