package rest

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/bwise1/civic_patrol/util/values"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	errForbidden         = errors.New("not allowed")
	errInvalidTransition = errors.New("invalid status transition")
	errReadOnly          = errors.New("collection is read-only")
)

// Publisher hands change events to the websocket fan-out.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

type commentRequest struct {
	ReportID string            `json:"report_id" validate:"required"`
	Text     string            `json:"text" validate:"notblank,max=2000"`
	Type     model.CommentType `json:"type" validate:"omitempty,oneof=comment assignment status_update"`
}

type replyRequest struct {
	ParentID string `json:"parent_id" validate:"required"`
	Text     string `json:"text" validate:"notblank,max=2000"`
}

type likeRequest struct {
	SubjectID   string            `json:"subject_id" validate:"required"`
	SubjectKind model.SubjectKind `json:"subject_kind" validate:"required,oneof=report comment reply"`
}

type pointsRequest struct {
	UserID string `json:"user_id"`
	Points int    `json:"points" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"notblank"`
}

// storeStatus maps a Store or validation error to a response status.
func storeStatus(err error) (string, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return values.NotFound, "record not found"
	case errors.Is(err, ErrConflict):
		return values.Conflict, "condition not met"
	case errors.Is(err, errForbidden):
		return values.NotAllowed, err.Error()
	case errors.Is(err, errReadOnly):
		return values.NotAllowed, err.Error()
	case errors.Is(err, model.ErrInvalidField), errors.Is(err, model.ErrInvalidLikeID), errors.Is(err, errInvalidTransition):
		return values.Unprocessable, err.Error()
	default:
		return values.Error, values.SystemErr
	}
}

func (api *API) publish(ctx context.Context, ev model.ChangeEvent) {
	if api.Events == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := api.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Log.Warn("publish change event failed",
			zap.String("channel", string(ev.Channel)),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
	}
}

func countFields(field string, n int) map[string]json.RawMessage {
	return map[string]json.RawMessage{field: json.RawMessage(strconv.Itoa(n))}
}

func (api *API) InsertRecordHelper(ctx context.Context, actor model.Identity, collection model.Collection, body json.RawMessage) (interface{}, string, string, error) {
	switch collection {
	case model.CollectionReports:
		return api.createReport(ctx, actor, body)
	case model.CollectionComments:
		return api.createComment(ctx, actor, body)
	case model.CollectionReplies:
		return api.createReply(ctx, actor, body)
	case model.CollectionLikes:
		return api.createLike(ctx, actor, body)
	case model.CollectionEditHistory:
		return nil, values.NotAllowed, "edit history is written by edits", errReadOnly
	}
	return nil, values.NotFound, "unknown collection", ErrNotFound
}

func (api *API) createReport(ctx context.Context, actor model.Identity, body json.RawMessage) (interface{}, string, string, error) {
	var rec model.Report
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, values.BadRequestBody, "unable to decode report", err
	}
	req := model.CreateReportRequest{
		Title:       strings.TrimSpace(rec.Title),
		Description: strings.TrimSpace(rec.Description),
		Category:    strings.TrimSpace(rec.Category),
		ImageURL:    rec.ImageURL,
	}
	if err := util.ValidateStruct(req); err != nil {
		return nil, values.Unprocessable, "title and category are required", err
	}

	saved, created, err := api.Store.InsertReport(ctx, model.Report{
		ID:          util.NormalizeID(rec.ID),
		UserID:      actor.ActorID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}
	if !created {
		return saved, values.Success, "report already exists", nil
	}

	record, err := json.Marshal(saved)
	if err == nil {
		api.publish(ctx, model.ChangeEvent{
			Channel:  model.ChannelReportCreated,
			EntityID: saved.ID,
			ReportID: saved.ID,
			Record:   record,
		})
	}
	return saved, values.Created, "report created", nil
}

func (api *API) createComment(ctx context.Context, actor model.Identity, body json.RawMessage) (interface{}, string, string, error) {
	var req commentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, values.BadRequestBody, "unable to decode comment", err
	}
	if err := util.ValidateStruct(req); err != nil {
		return nil, values.Unprocessable, "comment needs a report and text", err
	}
	if req.Type == "" {
		req.Type = model.CommentTypeComment
	}

	saved, count, err := api.Store.InsertComment(ctx, model.Comment{
		ID:       util.GenerateUUID().String(),
		ReportID: req.ReportID,
		UserID:   actor.ActorID,
		Text:     strings.TrimSpace(req.Text),
		Type:     req.Type,
	})
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}

	api.publish(ctx, model.ChangeEvent{
		Channel:  model.ChannelCommentCount,
		EntityID: saved.ReportID,
		ReportID: saved.ReportID,
		Fields:   countFields(model.FieldCommentCount, count),
	})
	return saved, values.Created, "comment added", nil
}

func (api *API) createReply(ctx context.Context, actor model.Identity, body json.RawMessage) (interface{}, string, string, error) {
	var req replyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, values.BadRequestBody, "unable to decode reply", err
	}
	if err := util.ValidateStruct(req); err != nil {
		return nil, values.Unprocessable, "reply needs a parent and text", err
	}

	saved, err := api.Store.InsertReply(ctx, model.Reply{
		ID:       util.GenerateUUID().String(),
		ParentID: req.ParentID,
		UserID:   actor.ActorID,
		Text:     strings.TrimSpace(req.Text),
	})
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}
	return saved, values.Created, "reply added", nil
}

func (api *API) createLike(ctx context.Context, actor model.Identity, body json.RawMessage) (interface{}, string, string, error) {
	var req likeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, values.BadRequestBody, "unable to decode like", err
	}
	if err := util.ValidateStruct(req); err != nil {
		return nil, values.Unprocessable, "like needs a subject", err
	}

	like, reportID, changed, err := api.Store.AddLike(ctx, model.Like{
		SubjectID:   req.SubjectID,
		SubjectKind: req.SubjectKind,
		UserID:      actor.ActorID,
	})
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}
	if changed {
		api.publishLikes(ctx, like, reportID)
		return like, values.Created, "liked", nil
	}
	return like, values.Success, "already liked", nil
}

func (api *API) publishLikes(ctx context.Context, l model.Like, reportID string) {
	api.publish(ctx, model.ChangeEvent{
		Channel:     model.ChannelLikeCount,
		EntityID:    l.SubjectID,
		SubjectKind: l.SubjectKind,
		ReportID:    reportID,
		Fields:      countFields(model.FieldLikeCount, l.LikeCount),
	})
}

func (api *API) UpdateRecordHelper(ctx context.Context, actor model.Identity, collection model.Collection, id string, req model.UpdateRequest) (interface{}, string, string, error) {
	patch, err := model.DecodePatch(req.Patch)
	if err != nil {
		return nil, values.Unprocessable, err.Error(), err
	}
	if len(patch) == 0 {
		return nil, values.Unprocessable, "empty patch", model.ErrInvalidField
	}

	switch collection {
	case model.CollectionReports:
		if u, ok := patch[model.FieldImageURL].(string); ok && u != "" && !util.IsURL(u) {
			return nil, values.Unprocessable, "image_url must be an absolute url", model.ErrInvalidField
		}
		releaseClaim(patch, req.Patch)
		saved, err := api.Store.UpdateReport(ctx, id, patch, req.Condition, reportGuard(actor, patch), actor.ActorID)
		if err != nil {
			status, msg := storeStatus(err)
			return nil, status, msg, err
		}
		api.publish(ctx, model.ChangeEvent{
			Channel:  model.ChannelReportStatus,
			EntityID: saved.ID,
			ReportID: saved.ID,
			Fields:   req.Patch,
		})
		return saved, values.Success, "report updated", nil

	case model.CollectionComments, model.CollectionReplies:
		text, ok := patch[model.FieldText].(string)
		if len(patch) != 1 || !ok || !util.NotBlank(text) || req.Condition != nil {
			return nil, values.Unprocessable, "only text can be edited", model.ErrInvalidField
		}
		text = strings.TrimSpace(text)
		var saved interface{}
		if collection == model.CollectionComments {
			saved, err = api.editComment(ctx, actor, id, text)
		} else {
			saved, err = api.editReply(ctx, actor, id, text)
		}
		if err != nil {
			status, msg := storeStatus(err)
			return nil, status, msg, err
		}
		return saved, values.Success, "text updated", nil
	}
	return nil, values.NotAllowed, "collection cannot be updated", errReadOnly
}

func (api *API) editComment(ctx context.Context, actor model.Identity, id, text string) (model.Comment, error) {
	current, err := api.Store.GetComment(ctx, id, actor.ActorID)
	if err != nil {
		return model.Comment{}, err
	}
	if current.UserID != actor.ActorID {
		return model.Comment{}, errForbidden
	}
	return api.Store.EditComment(ctx, id, text)
}

func (api *API) editReply(ctx context.Context, actor model.Identity, id, text string) (model.Reply, error) {
	current, err := api.Store.GetReply(ctx, id, actor.ActorID)
	if err != nil {
		return model.Reply{}, err
	}
	if current.UserID != actor.ActorID {
		return model.Reply{}, errForbidden
	}
	return api.Store.EditReply(ctx, id, text)
}

// reportGuard vetoes report patches the actor may not make. Patrols move
// reports along the workflow; reporters may only cancel their own.
func reportGuard(actor model.Identity, patch model.Patch) ReportCheck {
	return func(current model.Report) error {
		if next, ok := patch[model.FieldStatus].(model.ReportStatus); ok && next != current.Status {
			if !model.CanTransition(current.Status, next) {
				return errors.Join(errInvalidTransition, errors.New(string(current.Status)+" -> "+string(next)))
			}
		}
		if err := claimCheck(current, patch); err != nil {
			return err
		}
		if actor.CanPatrol() {
			return nil
		}
		if current.UserID != actor.ActorID {
			return errForbidden
		}
		for field, v := range patch {
			switch field {
			case model.FieldCancelReason, model.FieldImageURL:
			case model.FieldStatus:
				if v != model.StatusCancelled {
					return errForbidden
				}
			case model.FieldPatrolUserID, model.FieldAssignedTo:
				if s, _ := v.(*string); s != nil {
					return errForbidden
				}
			default:
				return errForbidden
			}
		}
		return nil
	}
}

// claimCheck keeps one claimant per report: a claim never replaces another
// actor's, and a claimant only stays while the report is in progress or
// awaiting verification. It runs under the row lock, so it holds with or
// without a write condition.
func claimCheck(current model.Report, patch model.Patch) error {
	status := current.Status
	if next, ok := patch[model.FieldStatus].(model.ReportStatus); ok {
		status = next
	}
	claimant := current.PatrolUserID
	if v, set := patch[model.FieldPatrolUserID]; set {
		claimant, _ = v.(*string)
		if claimant != nil && current.PatrolUserID != nil && *current.PatrolUserID != *claimant {
			return pkgerrors.Wrapf(ErrConflict, "report is claimed by %s", *current.PatrolUserID)
		}
	}
	if claimant != nil && !model.HoldsClaim(status) {
		return pkgerrors.Wrapf(errInvalidTransition, "a %s report cannot keep claimant %s", status, *claimant)
	}
	return nil
}

// releaseClaim clears the claimant and assignee when the patch moves the
// report to a status that cannot hold a claim. wire mirrors the additions so
// the published event carries them.
func releaseClaim(patch model.Patch, wire map[string]json.RawMessage) {
	next, ok := patch[model.FieldStatus].(model.ReportStatus)
	if !ok || model.HoldsClaim(next) {
		return
	}
	for _, f := range []string{model.FieldPatrolUserID, model.FieldAssignedTo} {
		if _, set := patch[f]; !set {
			patch[f] = (*string)(nil)
			wire[f] = json.RawMessage(`null`)
		}
	}
}

func (api *API) DeleteRecordHelper(ctx context.Context, actor model.Identity, collection model.Collection, id string) (interface{}, string, string, error) {
	switch collection {
	case model.CollectionLikes:
		kind, subject, user, err := model.ParseLikeID(id)
		if err != nil {
			return nil, values.Unprocessable, err.Error(), err
		}
		if user != actor.ActorID {
			return nil, values.NotAllowed, "likes can only be removed by their owner", errForbidden
		}
		like, reportID, changed, err := api.Store.RemoveLike(ctx, model.Like{SubjectID: subject, SubjectKind: kind, UserID: user})
		if err != nil {
			status, msg := storeStatus(err)
			return nil, status, msg, err
		}
		if changed {
			api.publishLikes(ctx, like, reportID)
		}
		return like, values.Success, "like removed", nil

	case model.CollectionComments:
		current, err := api.Store.GetComment(ctx, id, actor.ActorID)
		if err == nil && current.UserID != actor.ActorID {
			err = errForbidden
		}
		var (
			deleted model.Comment
			count   int
		)
		if err == nil {
			deleted, count, err = api.Store.DeleteComment(ctx, id)
		}
		if err != nil {
			status, msg := storeStatus(err)
			return nil, status, msg, err
		}
		api.publish(ctx, model.ChangeEvent{
			Channel:  model.ChannelCommentCount,
			EntityID: deleted.ReportID,
			ReportID: deleted.ReportID,
			Fields:   countFields(model.FieldCommentCount, count),
		})
		return deleted, values.Success, "comment deleted", nil

	case model.CollectionReplies:
		current, err := api.Store.GetReply(ctx, id, actor.ActorID)
		if err == nil && current.UserID != actor.ActorID {
			err = errForbidden
		}
		var deleted model.Reply
		if err == nil {
			deleted, err = api.Store.DeleteReply(ctx, id)
		}
		if err != nil {
			status, msg := storeStatus(err)
			return nil, status, msg, err
		}
		return deleted, values.Success, "reply deleted", nil
	}
	return nil, values.NotAllowed, "collection does not support deletes", errReadOnly
}

func (api *API) GetRecordHelper(ctx context.Context, actor model.Identity, collection model.Collection, id string) (interface{}, string, string, error) {
	var (
		rec interface{}
		err error
	)
	switch collection {
	case model.CollectionReports:
		rec, err = api.Store.GetReport(ctx, id, actor.ActorID)
	case model.CollectionComments:
		rec, err = api.Store.GetComment(ctx, id, actor.ActorID)
	case model.CollectionReplies:
		rec, err = api.Store.GetReply(ctx, id, actor.ActorID)
	default:
		return nil, values.NotFound, "unknown collection", ErrNotFound
	}
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}
	return rec, values.Success, "record fetched", nil
}

func (api *API) ListRecordsHelper(ctx context.Context, actor model.Identity, collection model.Collection, f model.Filter) (interface{}, string, string, error) {
	var (
		recs interface{}
		err  error
	)
	switch collection {
	case model.CollectionReports:
		recs, err = api.Store.ListReports(ctx, f, actor.ActorID)
	case model.CollectionComments:
		if f.ReportID == "" {
			return nil, values.Unprocessable, "report_id is required", model.ErrInvalidField
		}
		recs, err = api.Store.ListComments(ctx, f.ReportID, actor.ActorID)
	case model.CollectionReplies:
		if f.ReportID == "" && f.CommentID == "" {
			return nil, values.Unprocessable, "report_id or comment_id is required", model.ErrInvalidField
		}
		recs, err = api.Store.ListReplies(ctx, f, actor.ActorID)
	case model.CollectionEditHistory:
		if f.CommentID == "" {
			return nil, values.Unprocessable, "comment_id is required", model.ErrInvalidField
		}
		recs, err = api.Store.ListHistory(ctx, f.CommentID)
	default:
		return nil, values.NotFound, "unknown collection", ErrNotFound
	}
	if err != nil {
		status, msg := storeStatus(err)
		return nil, status, msg, err
	}
	return recs, values.Success, "records fetched", nil
}

func (api *API) AwardPointsHelper(ctx context.Context, actor model.Identity, req pointsRequest) (string, string, error) {
	if err := util.ValidateStruct(req); err != nil {
		return values.Unprocessable, "points need a positive amount and a reason", err
	}
	if req.UserID == "" {
		req.UserID = actor.ActorID
	}
	if req.UserID != actor.ActorID && !actor.CanPatrol() {
		return values.NotAllowed, "cannot award points to another user", errForbidden
	}
	if err := api.Store.AwardPoints(ctx, req.UserID, req.Points, req.Reason); err != nil {
		return values.Error, values.SystemErr, err
	}
	return values.Created, "points awarded", nil
}
