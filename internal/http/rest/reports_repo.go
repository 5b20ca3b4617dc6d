package rest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwise1/civic_patrol/internal/db"
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// Repo is the Postgres implementation of Store.
type Repo struct {
	DB *db.DB
}

func NewRepo(database *db.DB) *Repo {
	return &Repo{DB: database}
}

// $1 is always the viewer.
const reportSelect = `
    SELECT
        r.id::text, r.user_id, r.title, r.description, r.category, r.status,
        r.priority, r.priority_level, r.patrol_user_id, r.assigned_to,
        r.image_url, r.cancel_reason, r.like_count, r.comment_count,
        EXISTS (
            SELECT 1 FROM likes l
            WHERE l.subject_kind = 'report' AND l.subject_id = r.id::text AND l.user_id = $1
        ) AS liked_by_me,
        r.created_at, r.updated_at
    FROM reports r`

// patchable report fields and their columns
var reportColumns = map[string]string{
	model.FieldStatus:        "status",
	model.FieldPriority:      "priority",
	model.FieldPriorityLevel: "priority_level",
	model.FieldPatrolUserID:  "patrol_user_id",
	model.FieldAssignedTo:    "assigned_to",
	model.FieldImageURL:      "image_url",
	model.FieldCancelReason:  "cancel_reason",
}

// fields a conditional update may guard on
var conditionColumns = map[string]string{
	model.FieldPatrolUserID: "patrol_user_id",
	model.FieldAssignedTo:   "assigned_to",
}

func scanReport(row pgx.Row) (model.Report, error) {
	var r model.Report
	err := row.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Description, &r.Category, &r.Status,
		&r.Priority, &r.PriorityLevel, &r.PatrolUserID, &r.AssignedTo,
		&r.ImageURL, &r.CancelReason, &r.LikeCount, &r.CommentCount,
		&r.LikedByMe, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// InsertReport stores r and reports whether it was new. Replaying an insert
// with a known id returns the stored row.
func (repo *Repo) InsertReport(ctx context.Context, r model.Report) (model.Report, bool, error) {
	query := `
        INSERT INTO reports (
            id, user_id, title, description, category, status, priority, image_url
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO NOTHING`
	tag, err := repo.DB.Pool().Exec(ctx, query,
		r.ID, r.UserID, r.Title, r.Description, r.Category,
		model.StatusPending, model.PriorityLow, r.ImageURL,
	)
	if err != nil {
		return model.Report{}, false, pkgerrors.Wrap(err, "insert report")
	}

	saved, err := repo.GetReport(ctx, r.ID, r.UserID)
	return saved, tag.RowsAffected() == 1, err
}

func (repo *Repo) GetReport(ctx context.Context, id, viewer string) (model.Report, error) {
	if !validUUID(id) {
		return model.Report{}, ErrNotFound
	}
	r, err := scanReport(repo.DB.Pool().QueryRow(ctx, reportSelect+` WHERE r.id = $2`, viewer, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Report{}, ErrNotFound
	}
	return r, err
}

func (repo *Repo) ListReports(ctx context.Context, f model.Filter, viewer string) ([]model.Report, error) {
	args := []any{viewer}
	var where []string
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.ReportID != "" {
		if !validUUID(f.ReportID) {
			return nil, nil
		}
		add("r.id = $%d", f.ReportID)
	}
	if f.Category != "" {
		add("lower(r.category) = lower($%d)", f.Category)
	}
	if len(f.Status) > 0 {
		add("r.status = ANY($%d)", statusStrings(f.Status))
	}
	if len(f.Exclude) > 0 {
		add("NOT (r.status = ANY($%d))", statusStrings(f.Exclude))
	}
	if f.Priority != "" {
		add("r.priority = $%d", f.Priority)
	}
	if f.Search != "" {
		add("(position(lower($%[1]d) in lower(r.title)) > 0 OR position(lower($%[1]d) in lower(r.description)) > 0)", f.Search)
	}

	query := reportSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := repo.DB.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// UpdateReport applies patch to a locked row. With cond set, the write only
// lands while cond.Field is null or equal to cond.UnsetOr; a miss is
// ErrConflict.
func (repo *Repo) UpdateReport(ctx context.Context, id string, patch model.Patch, cond *model.Condition, check ReportCheck, viewer string) (model.Report, error) {
	if !validUUID(id) {
		return model.Report{}, ErrNotFound
	}

	var condColumn string
	if cond != nil {
		var ok bool
		if condColumn, ok = conditionColumns[cond.Field]; !ok {
			return model.Report{}, pkgerrors.Wrapf(model.ErrInvalidField, "cannot condition on %q", cond.Field)
		}
	}

	fields := make([]string, 0, len(patch))
	for f := range patch {
		if _, ok := reportColumns[f]; !ok {
			return model.Report{}, pkgerrors.Wrapf(model.ErrInvalidField, "%q is not writable", f)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return model.Report{}, pkgerrors.Wrap(model.ErrInvalidField, "empty patch")
	}
	sort.Strings(fields)

	var updated model.Report
	err := repo.DB.RunInTx(ctx, func(tx pgx.Tx) error {
		current, err := scanReport(tx.QueryRow(ctx, reportSelect+` WHERE r.id = $2 FOR UPDATE OF r`, viewer, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}

		args := []any{id}
		sets := make([]string, 0, len(fields)+1)
		for _, f := range fields {
			args = append(args, patch[f])
			sets = append(sets, fmt.Sprintf("%s = $%d", reportColumns[f], len(args)))
		}
		sets = append(sets, "updated_at = NOW()")

		query := `UPDATE reports SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
		if cond != nil {
			args = append(args, cond.UnsetOr)
			query += fmt.Sprintf(" AND (%[1]s IS NULL OR %[1]s = $%[2]d)", condColumn, len(args))
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return pkgerrors.Wrap(err, "update report")
		}
		if tag.RowsAffected() == 0 {
			if cond != nil {
				return ErrConflict
			}
			return ErrUpdateFailed
		}

		updated, err = scanReport(tx.QueryRow(ctx, reportSelect+` WHERE r.id = $2`, viewer, id))
		return err
	})
	return updated, err
}

func statusStrings(list []model.ReportStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func (repo *Repo) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	_, err := repo.DB.Pool().Exec(ctx,
		`INSERT INTO points (user_id, points, reason) VALUES ($1, $2, $3)`,
		userID, points, reason,
	)
	return pkgerrors.Wrap(err, "award points")
}
