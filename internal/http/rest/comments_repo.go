package rest

import (
	"context"
	"errors"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

const commentSelect = `
    SELECT
        c.id, c.report_id::text, c.user_id, c.text, c.type, c.like_count,
        EXISTS (
            SELECT 1 FROM likes l
            WHERE l.subject_kind = 'comment' AND l.subject_id = c.id AND l.user_id = $1
        ) AS liked_by_me,
        c.created_at, c.updated_at
    FROM comments c`

const replySelect = `
    SELECT
        rp.id, rp.parent_id, rp.comment_id, rp.report_id::text, rp.user_id,
        rp.text, rp.like_count,
        EXISTS (
            SELECT 1 FROM likes l
            WHERE l.subject_kind = 'reply' AND l.subject_id = rp.id AND l.user_id = $1
        ) AS liked_by_me,
        rp.created_at
    FROM replies rp`

func scanComment(row pgx.Row) (model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.ReportID, &c.UserID, &c.Text, &c.Type, &c.LikeCount, &c.LikedByMe, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanReply(row pgx.Row) (model.Reply, error) {
	var r model.Reply
	err := row.Scan(&r.ID, &r.ParentID, &r.CommentID, &r.ReportID, &r.UserID, &r.Text, &r.LikeCount, &r.LikedByMe, &r.CreatedAt)
	return r, err
}

// InsertComment stores c and bumps the report's comment count in the same
// transaction, returning the new count.
func (repo *Repo) InsertComment(ctx context.Context, c model.Comment) (model.Comment, int, error) {
	if !validUUID(c.ReportID) {
		return model.Comment{}, 0, ErrNotFound
	}

	var count int
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE reports SET comment_count = comment_count + 1 WHERE id = $1 RETURNING comment_count`,
			c.ReportID,
		).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
            INSERT INTO comments (id, report_id, user_id, text, type)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING created_at, updated_at`,
			c.ID, c.ReportID, c.UserID, c.Text, c.Type,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
	})
	if err != nil {
		return model.Comment{}, 0, pkgerrors.Wrap(err, "insert comment")
	}
	return c, count, nil
}

func (repo *Repo) GetComment(ctx context.Context, id, viewer string) (model.Comment, error) {
	c, err := scanComment(repo.DB.Pool().QueryRow(ctx, commentSelect+` WHERE c.id = $2`, viewer, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Comment{}, ErrNotFound
	}
	return c, err
}

func (repo *Repo) ListComments(ctx context.Context, reportID, viewer string) ([]model.Comment, error) {
	if !validUUID(reportID) {
		return nil, nil
	}
	rows, err := repo.DB.Pool().Query(ctx, commentSelect+` WHERE c.report_id = $2 ORDER BY c.created_at`, viewer, reportID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list comments")
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// EditComment replaces the text and records the previous one in
// edit_history atomically.
func (repo *Repo) EditComment(ctx context.Context, id, text string) (model.Comment, error) {
	var edited model.Comment
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := recordEdit(ctx, tx, "comments", id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE comments SET text = $2, updated_at = NOW() WHERE id = $1`, id, text); err != nil {
			return err
		}
		var err error
		edited, err = scanComment(tx.QueryRow(ctx, commentSelect+` WHERE c.id = $2`, "", id))
		return err
	})
	return edited, err
}

// DeleteComment removes the comment with its replies and returns the
// report's new comment count.
func (repo *Repo) DeleteComment(ctx context.Context, id string) (model.Comment, int, error) {
	var (
		deleted model.Comment
		count   int
	)
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		deleted, err = scanComment(tx.QueryRow(ctx, commentSelect+` WHERE c.id = $2 FOR UPDATE OF c`, "", id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`UPDATE reports SET comment_count = GREATEST(comment_count - 1, 0) WHERE id = $1 RETURNING comment_count`,
			deleted.ReportID,
		).Scan(&count)
	})
	return deleted, count, err
}

// InsertReply derives the thread root and report from the parent, which may
// be a comment or another reply.
func (repo *Repo) InsertReply(ctx context.Context, r model.Reply) (model.Reply, error) {
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            SELECT id, report_id::text FROM comments WHERE id = $1
            UNION ALL
            SELECT comment_id, report_id::text FROM replies WHERE id = $1
            LIMIT 1`,
			r.ParentID,
		).Scan(&r.CommentID, &r.ReportID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
            INSERT INTO replies (id, parent_id, comment_id, report_id, user_id, text)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING created_at`,
			r.ID, r.ParentID, r.CommentID, r.ReportID, r.UserID, r.Text,
		).Scan(&r.CreatedAt)
	})
	if err != nil {
		return model.Reply{}, err
	}
	return r, nil
}

func (repo *Repo) GetReply(ctx context.Context, id, viewer string) (model.Reply, error) {
	r, err := scanReply(repo.DB.Pool().QueryRow(ctx, replySelect+` WHERE rp.id = $2`, viewer, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Reply{}, ErrNotFound
	}
	return r, err
}

func (repo *Repo) ListReplies(ctx context.Context, f model.Filter, viewer string) ([]model.Reply, error) {
	query := replySelect + ` WHERE ($2 = '' OR rp.report_id::text = $2) AND ($3 = '' OR rp.comment_id = $3) ORDER BY rp.created_at`
	rows, err := repo.DB.Pool().Query(ctx, query, viewer, f.ReportID, f.CommentID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list replies")
	}
	defer rows.Close()

	var replies []model.Reply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func (repo *Repo) EditReply(ctx context.Context, id, text string) (model.Reply, error) {
	var edited model.Reply
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := recordEdit(ctx, tx, "replies", id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE replies SET text = $2 WHERE id = $1`, id, text); err != nil {
			return err
		}
		var err error
		edited, err = scanReply(tx.QueryRow(ctx, replySelect+` WHERE rp.id = $2`, "", id))
		return err
	})
	return edited, err
}

func (repo *Repo) DeleteReply(ctx context.Context, id string) (model.Reply, error) {
	var deleted model.Reply
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		deleted, err = scanReply(tx.QueryRow(ctx, replySelect+` WHERE rp.id = $2 FOR UPDATE OF rp`, "", id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM replies WHERE id = $1`, id)
		return err
	})
	return deleted, err
}

// recordEdit locks the row and appends its current text to edit_history.
// table is one of the fixed table names above, never user input.
func recordEdit(ctx context.Context, tx pgx.Tx, table, id string) error {
	var previous string
	err := tx.QueryRow(ctx, `SELECT text FROM `+table+` WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO edit_history (id, comment_id, previous_text) VALUES ($1, $2, $3)`,
		util.GenerateUUID().String(), id, previous,
	)
	return err
}

// ListHistory returns the previous texts of a comment or reply, newest first.
func (repo *Repo) ListHistory(ctx context.Context, commentID string) ([]model.EditHistoryEntry, error) {
	rows, err := repo.DB.Pool().Query(ctx, `
        SELECT id, comment_id, previous_text, edited_at
        FROM edit_history
        WHERE comment_id = $1
        ORDER BY edited_at DESC, id`,
		commentID,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list edit history")
	}
	defer rows.Close()

	var history []model.EditHistoryEntry
	for rows.Next() {
		var h model.EditHistoryEntry
		if err := rows.Scan(&h.ID, &h.CommentID, &h.PreviousText, &h.EditedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
