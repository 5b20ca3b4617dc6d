package rest

import (
	"context"
	"errors"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// count bookkeeping per subject kind: the table and the expression giving
// the owning report id
var likeTargets = map[model.SubjectKind]struct{ table, reportID string }{
	model.SubjectReport:  {"reports", "id::text"},
	model.SubjectComment: {"comments", "report_id::text"},
	model.SubjectReply:   {"replies", "report_id::text"},
}

// AddLike inserts the (subject, user) pair once. Only a new row moves the
// subject's like_count.
func (repo *Repo) AddLike(ctx context.Context, l model.Like) (model.Like, string, bool, error) {
	return repo.toggleLike(ctx, l, true)
}

func (repo *Repo) RemoveLike(ctx context.Context, l model.Like) (model.Like, string, bool, error) {
	return repo.toggleLike(ctx, l, false)
}

func (repo *Repo) toggleLike(ctx context.Context, l model.Like, like bool) (model.Like, string, bool, error) {
	target, ok := likeTargets[l.SubjectKind]
	if !ok {
		return model.Like{}, "", false, pkgerrors.Wrapf(model.ErrInvalidLikeID, "subject kind %q", l.SubjectKind)
	}
	if l.SubjectKind == model.SubjectReport && !validUUID(l.SubjectID) {
		return model.Like{}, "", false, ErrNotFound
	}

	var (
		reportID string
		changed  bool
	)
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT `+target.reportID+` FROM `+target.table+` WHERE id = $1 FOR UPDATE`,
			l.SubjectID,
		).Scan(&reportID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		delta := "+ 1"
		query := `
            INSERT INTO likes (subject_kind, subject_id, user_id) VALUES ($1, $2, $3)
            ON CONFLICT (subject_kind, subject_id, user_id) DO NOTHING`
		if !like {
			delta = "- 1"
			query = `DELETE FROM likes WHERE subject_kind = $1 AND subject_id = $2 AND user_id = $3`
		}
		tag, err := tx.Exec(ctx, query, l.SubjectKind, l.SubjectID, l.UserID)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1

		if changed {
			_, err = tx.Exec(ctx,
				`UPDATE `+target.table+` SET like_count = GREATEST(like_count `+delta+`, 0) WHERE id = $1`,
				l.SubjectID,
			)
			if err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx,
			`SELECT like_count FROM `+target.table+` WHERE id = $1`,
			l.SubjectID,
		).Scan(&l.LikeCount)
	})
	if err != nil {
		return model.Like{}, "", false, pkgerrors.Wrap(err, "toggle like")
	}
	return l, reportID, changed, nil
}
