package livesync

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
)

// MaxRenderDepth caps how deep a thread is indented. Deeper replies still
// attach to their parent and render at this depth.
const MaxRenderDepth = 5

// ReplyTree manages the thread rooted at one comment. Nodes live flat in
// the Cache keyed by id; the parent index is rebuilt on each Render, so a
// change to one node never copies or touches its siblings.
type ReplyTree struct {
	co        *Coordinator
	commentID string
}

func (c *Coordinator) Thread(commentID string) *ReplyTree {
	return &ReplyTree{co: c, commentID: commentID}
}

// Node is one rendered entry of a thread.
type Node struct {
	ID        string
	ParentID  string
	UserID    string
	Text      string
	LikeCount int
	LikedByMe bool
	CreatedAt time.Time
	Depth     int
	Pending   bool
}

func (t *ReplyTree) AddReply(ctx context.Context, parentID, text string) Outcome {
	if parentID != t.commentID {
		if r, ok := t.co.cache.Reply(parentID); ok && r.CommentID != t.commentID {
			return t.co.finish(KindAddReply, "", invalidf("reply %s belongs to another thread", parentID))
		}
	}
	return t.co.Propose(ctx, AddReply{ParentID: parentID, Text: text})
}

func (t *ReplyTree) kindOf(nodeID string) model.SubjectKind {
	if nodeID == t.commentID {
		return model.SubjectComment
	}
	return model.SubjectReply
}

func (t *ReplyTree) ToggleLike(ctx context.Context, nodeID string) Outcome {
	return t.co.Propose(ctx, ToggleLike{SubjectID: nodeID, SubjectKind: t.kindOf(nodeID)})
}

func (t *ReplyTree) Edit(ctx context.Context, nodeID, text string) Outcome {
	return t.co.Propose(ctx, EditComment{ID: nodeID, Text: text})
}

func (t *ReplyTree) Delete(ctx context.Context, nodeID string) Outcome {
	return t.co.Propose(ctx, DeleteComment{ID: nodeID})
}

// History refreshes the edit history of nodeID and returns it newest first.
// The sequence is a snapshot and may be ranged over any number of times.
func (t *ReplyTree) History(ctx context.Context, nodeID string) (iter.Seq[model.EditHistoryEntry], error) {
	rows, err := t.co.remote.List(ctx, model.CollectionEditHistory, model.Filter{CommentID: nodeID})
	if err != nil {
		return nil, errors.Wrapf(err, "load edit history of %s", nodeID)
	}
	entries := make([]model.EditHistoryEntry, 0, len(rows))
	for _, raw := range rows {
		h, err := decode[model.EditHistoryEntry](raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	t.co.cache.PutHistory(nodeID, entries)

	snapshot := t.co.cache.History(nodeID)
	return func(yield func(model.EditHistoryEntry) bool) {
		for _, h := range snapshot {
			if !yield(h) {
				return
			}
		}
	}, nil
}

// Render returns the thread in display order, the root comment first.
// Deleted nodes are left out together with everything below them.
func (t *ReplyTree) Render() []Node {
	root, ok := t.co.cache.Comment(t.commentID)
	if !ok || root.Deleted {
		return nil
	}
	cache := t.co.cache

	children := make(map[string][]model.Reply)
	for _, r := range cache.Replies(t.commentID) {
		children[r.ParentID] = append(children[r.ParentID], r)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			if list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].ID < list[j].ID
			}
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
	}

	out := []Node{{
		ID:        root.ID,
		UserID:    root.UserID,
		Text:      root.Text,
		LikeCount: root.LikeCount,
		LikedByMe: root.LikedByMe,
		CreatedAt: root.CreatedAt,
		Pending:   cache.Pending(Ref{model.SubjectComment, root.ID}),
	}}

	seen := map[string]bool{root.ID: true}
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, r := range children[parentID] {
			if r.Deleted || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, Node{
				ID:        r.ID,
				ParentID:  r.ParentID,
				UserID:    r.UserID,
				Text:      r.Text,
				LikeCount: r.LikeCount,
				LikedByMe: r.LikedByMe,
				CreatedAt: r.CreatedAt,
				Depth:     min(depth, MaxRenderDepth),
				Pending:   cache.Pending(Ref{model.SubjectReply, r.ID}),
			})
			walk(r.ID, depth+1)
		}
	}
	walk(root.ID, 1)
	return out
}
