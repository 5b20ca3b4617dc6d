package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	tempPrefix   = "tmp_"
	reportPoints = 10
	reportFolder = "reports"
)

func tempID() string { return tempPrefix + cuid.New() }

// IsTemp reports whether id was minted locally for an unconfirmed entity.
func IsTemp(id string) bool { return strings.HasPrefix(id, tempPrefix) }

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryPolicy overrides how the remote write of kind is retried.
func WithRetryPolicy(kind MutationKind, p RetryPolicy) Option {
	return func(c *Coordinator) { c.retry[kind] = p }
}

func WithUploader(u Uploader) Option {
	return func(c *Coordinator) { c.uploader = u }
}

func WithPoints(p PointsAwarder) Option {
	return func(c *Coordinator) { c.points = p }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator applies mutations to the Cache before the remote write
// completes, then confirms or rolls them back.
type Coordinator struct {
	cache    *Cache
	remote   Remote
	identity model.Identity
	log      *zap.Logger
	metrics  *Metrics
	retry    map[MutationKind]RetryPolicy
	uploader Uploader
	points   PointsAwarder
	notifier Notifier
	now      func() time.Time

	effects sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]int
}

func NewCoordinator(cache *Cache, remote Remote, identity model.Identity, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:    cache,
		remote:   remote,
		identity: identity,
		log:      zap.NewNop(),
		retry:    defaultRetryPolicies(),
		now:      time.Now,
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Cache() *Cache { return c.cache }

func (c *Coordinator) Identity() model.Identity { return c.identity }

// InFlight reports whether a mutation on subject is awaiting its remote
// write. UIs disable like toggles while it returns true.
func (c *Coordinator) InFlight(subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[subject] > 0
}

func (c *Coordinator) track(subject string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[subject] += delta
	if c.inflight[subject] <= 0 {
		delete(c.inflight, subject)
	}
}

// Flush blocks until every fire-and-forget side effect has finished.
func (c *Coordinator) Flush() { c.effects.Wait() }

type operation struct {
	kind     MutationKind
	subject  string
	entityID string
	stage    func(tx *Tx) error
	write    func(ctx context.Context) (Resolution, error)
	// noop is set by stage when the cache already reflects the mutation.
	noop  bool
	audit func() model.Comment
	after []func(ctx context.Context) error
}

// Propose validates m, applies it optimistically and reconciles the Cache
// with the remote outcome. Errors never escape as panics; they are reported
// in the Outcome.
func (c *Coordinator) Propose(ctx context.Context, m Mutation) Outcome {
	if m == nil {
		return c.finish("", "", invalidf("nil mutation"))
	}
	if err := util.ValidateStruct(m); err != nil {
		return c.finish(m.Kind(), "", errors.Wrap(ErrValidation, err.Error()))
	}

	var op *operation
	switch m := m.(type) {
	case ToggleLike:
		op = c.toggleLikeOp(m)
	case AddComment:
		op = c.addCommentOp(m)
	case AddReply:
		op = c.addReplyOp(m)
	case EditComment:
		op = c.editOp(m)
	case DeleteComment:
		op = c.deleteOp(m)
	case ClaimReport:
		op = c.claimOp(m.ReportID)
	case UnclaimReport:
		op = c.unclaimOp(m.ReportID)
	case SetPriority:
		op = c.setPriorityOp(m)
	case SetStatus:
		op = c.setStatusOp(m)
	case CreateReport:
		op = c.createReportOp(m)
	default:
		return c.finish(m.Kind(), "", invalidf("unsupported mutation %T", m))
	}
	return c.execute(ctx, op)
}

func (c *Coordinator) execute(ctx context.Context, op *operation) Outcome {
	c.track(op.subject, 1)
	defer c.track(op.subject, -1)

	tok, err := c.cache.Update(op.stage)
	if err != nil {
		return c.finish(op.kind, op.entityID, err)
	}
	if op.noop {
		c.cache.Confirm(tok, Resolution{})
		return c.finish(op.kind, op.entityID, nil)
	}

	res, err := c.write(ctx, op)
	if err != nil {
		c.cache.Rollback(tok)
		c.metrics.rollback(op.kind)
		c.log.Warn("mutation rolled back",
			zap.String("kind", string(op.kind)),
			zap.String("subject", op.subject),
			zap.Error(err),
		)
		return c.finish(op.kind, op.entityID, err)
	}
	c.cache.Confirm(tok, res)

	if op.audit != nil {
		c.appendAudit(ctx, op.audit())
	}
	for _, fn := range op.after {
		c.sideEffect(ctx, string(op.kind), fn)
	}
	return c.finish(op.kind, op.entityID, nil)
}

func (c *Coordinator) write(ctx context.Context, op *operation) (Resolution, error) {
	policy := c.retry[op.kind]
	attempts := max(policy.Attempts, 1)
	for attempt := 1; ; attempt++ {
		res, err := op.write(ctx)
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= attempts {
			return res, err
		}
		c.metrics.retry(op.kind)
		delay := time.Duration(attempt) * policy.Backoff
		c.log.Info("retrying remote write",
			zap.String("kind", string(op.kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Resolution{}, errors.Wrapf(err, "retry aborted: %v", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Coordinator) finish(kind MutationKind, entityID string, err error) Outcome {
	out := Outcome{Status: Accepted, Kind: kind, EntityID: entityID}
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrConflict):
			out.Status = Conflict
		case errors.Is(err, ErrValidation), errors.Is(err, ErrNotAuthor), errors.Is(err, ErrUnknownEntity):
			out.Status = Invalid
		default:
			out.Status = Failed
		}
		out.Err = &OperationError{Kind: kind, Cause: err}
	}
	c.metrics.mutation(kind, out.Status)
	return out
}

// sideEffect runs fn detached from the caller. Its failure is only logged.
func (c *Coordinator) sideEffect(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	c.effects.Add(1)
	go func() {
		defer c.effects.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("side effect panicked", zap.String("effect", name), zap.Any("panic", r))
			}
		}()
		if err := fn(ctx); err != nil {
			c.log.Warn("side effect failed", zap.String("effect", name), zap.Error(err))
		}
	}()
}

func (c *Coordinator) appendAudit(ctx context.Context, note model.Comment) {
	c.sideEffect(ctx, "audit", func(ctx context.Context) error {
		raw, err := c.remote.Insert(ctx, model.CollectionComments, note)
		if err != nil {
			return errors.Wrap(err, "append audit comment")
		}
		saved, err := decode[model.Comment](raw)
		if err != nil {
			return err
		}
		c.cache.PutComment(saved)
		return nil
	})
}

func (c *Coordinator) auditNote(reportID string, typ model.CommentType, text string) func() model.Comment {
	return func() model.Comment {
		now := c.now()
		return model.Comment{
			ReportID:  reportID,
			UserID:    c.identity.ActorID,
			Text:      text,
			Type:      typ,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
}

func (c *Coordinator) displayName() string {
	if c.identity.DisplayName != "" {
		return c.identity.DisplayName
	}
	return c.identity.ActorID
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Wrapf(ErrRemoteRejected, "decode %T: %v", v, err)
	}
	return v, nil
}

func reportOf(tx *Tx, id string) (*model.Report, error) {
	v, ok := tx.Get(Ref{model.SubjectReport, id})
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEntity, "report %s", id)
	}
	return v.(*model.Report), nil
}

func (c *Coordinator) requirePatrol() error {
	if !c.identity.CanPatrol() {
		return invalidf("role %q cannot manage reports", c.identity.Role)
	}
	return nil
}

func (c *Coordinator) toggleLikeOp(m ToggleLike) *operation {
	ref := Ref{m.SubjectKind, m.SubjectID}
	op := &operation{kind: KindToggleLike, subject: m.SubjectID, entityID: m.SubjectID}
	var liked bool
	op.stage = func(tx *Tx) error {
		if IsTemp(m.SubjectID) || tx.Unsaved(ref) {
			return invalidf("%s %s is not saved yet", m.SubjectKind, m.SubjectID)
		}
		v, ok := tx.Get(ref)
		if !ok {
			return errors.Wrapf(ErrUnknownEntity, "%s %s", m.SubjectKind, m.SubjectID)
		}
		count, mine := likeState(v)
		liked = mine
		next := count + 1
		if liked {
			next = max(count-1, 0)
		}
		return tx.Stage(ref, model.Patch{model.FieldLikeCount: next, model.FieldLikedByMe: !liked})
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		var (
			raw json.RawMessage
			err error
		)
		if liked {
			raw, err = c.remote.Delete(ctx, model.CollectionLikes, model.LikeID(m.SubjectKind, m.SubjectID, c.identity.ActorID))
		} else {
			raw, err = c.remote.Insert(ctx, model.CollectionLikes, model.Like{
				SubjectID:   m.SubjectID,
				SubjectKind: m.SubjectKind,
				UserID:      c.identity.ActorID,
				CreatedAt:   c.now(),
			})
		}
		if err != nil {
			return Resolution{}, err
		}
		like, err := decode[model.Like](raw)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Values: map[Ref]model.Patch{
			ref: {model.FieldLikeCount: max(like.LikeCount, 0), model.FieldLikedByMe: !liked},
		}}, nil
	}
	return op
}

func (c *Coordinator) addCommentOp(m AddComment) *operation {
	now := c.now()
	temp := model.Comment{
		ID:        tempID(),
		ReportID:  m.ReportID,
		UserID:    c.identity.ActorID,
		Text:      strings.TrimSpace(m.Text),
		Type:      model.CommentTypeComment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	reportRef := Ref{model.SubjectReport, m.ReportID}
	op := &operation{kind: KindAddComment, subject: m.ReportID, entityID: temp.ID}
	op.stage = func(tx *Tx) error {
		r, err := reportOf(tx, m.ReportID)
		if err != nil {
			return err
		}
		if err := tx.Insert(&temp); err != nil {
			return err
		}
		return tx.Stage(reportRef, model.Patch{model.FieldCommentCount: r.CommentCount + 1})
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		raw, err := c.remote.Insert(ctx, model.CollectionComments, temp)
		if err != nil {
			return Resolution{}, err
		}
		saved, err := decode[model.Comment](raw)
		if err != nil {
			return Resolution{}, err
		}
		op.entityID = saved.ID
		return Resolution{Replace: map[Ref]any{{model.SubjectComment, temp.ID}: &saved}}, nil
	}
	return op
}

func (c *Coordinator) addReplyOp(m AddReply) *operation {
	now := c.now()
	temp := model.Reply{
		ID:        tempID(),
		ParentID:  m.ParentID,
		UserID:    c.identity.ActorID,
		Text:      strings.TrimSpace(m.Text),
		CreatedAt: now,
	}
	op := &operation{kind: KindAddReply, subject: m.ParentID, entityID: temp.ID}
	op.stage = func(tx *Tx) error {
		if IsTemp(m.ParentID) {
			return invalidf("parent %s is not saved yet", m.ParentID)
		}
		_, v, ok := tx.Lookup(m.ParentID)
		if !ok {
			return errors.Wrapf(ErrUnknownEntity, "parent %s", m.ParentID)
		}
		switch p := v.(type) {
		case *model.Comment:
			temp.CommentID, temp.ReportID = p.ID, p.ReportID
		case *model.Reply:
			temp.CommentID, temp.ReportID = p.CommentID, p.ReportID
		default:
			return invalidf("cannot reply to %T", v)
		}
		return tx.Insert(&temp)
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		raw, err := c.remote.Insert(ctx, model.CollectionReplies, temp)
		if err != nil {
			return Resolution{}, err
		}
		saved, err := decode[model.Reply](raw)
		if err != nil {
			return Resolution{}, err
		}
		op.entityID = saved.ID
		return Resolution{Replace: map[Ref]any{{model.SubjectReply, temp.ID}: &saved}}, nil
	}
	return op
}

func (c *Coordinator) editOp(m EditComment) *operation {
	text := strings.TrimSpace(m.Text)
	op := &operation{kind: KindEditComment, subject: m.ID, entityID: m.ID}
	var (
		ref   Ref
		entry model.EditHistoryEntry
	)
	op.stage = func(tx *Tx) error {
		var (
			v  any
			ok bool
		)
		ref, v, ok = tx.Lookup(m.ID)
		if !ok || ref.Kind == model.SubjectReport {
			return errors.Wrapf(ErrUnknownEntity, "comment %s", m.ID)
		}
		if IsTemp(m.ID) || tx.Unsaved(ref) {
			return invalidf("%s %s is not saved yet", ref.Kind, m.ID)
		}
		author, previous := authorOf(v)
		if author != c.identity.ActorID {
			return errors.Wrapf(ErrNotAuthor, "%s %s", ref.Kind, m.ID)
		}
		if previous == text {
			return invalidf("text unchanged")
		}
		entry = model.EditHistoryEntry{
			ID:           tempID(),
			CommentID:    m.ID,
			PreviousText: previous,
			EditedAt:     c.now(),
		}
		tx.RecordEdit(entry)
		return tx.Stage(ref, model.Patch{model.FieldText: text})
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		raw, err := c.remote.Update(ctx, ref.Kind.Collection(), m.ID, model.Patch{model.FieldText: text}, nil)
		if err != nil {
			return Resolution{}, err
		}
		saved, err := decode[struct {
			Text string `json:"text"`
		}](raw)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Values:  map[Ref]model.Patch{ref: {model.FieldText: saved.Text}},
			History: []model.EditHistoryEntry{entry},
		}, nil
	}
	return op
}

func (c *Coordinator) deleteOp(m DeleteComment) *operation {
	op := &operation{kind: KindDeleteComment, subject: m.ID, entityID: m.ID}
	var ref Ref
	op.stage = func(tx *Tx) error {
		var (
			v  any
			ok bool
		)
		ref, v, ok = tx.Lookup(m.ID)
		if !ok || ref.Kind == model.SubjectReport {
			return errors.Wrapf(ErrUnknownEntity, "comment %s", m.ID)
		}
		if IsTemp(m.ID) || tx.Unsaved(ref) {
			return invalidf("%s %s is not saved yet", ref.Kind, m.ID)
		}
		if author, _ := authorOf(v); author != c.identity.ActorID {
			return errors.Wrapf(ErrNotAuthor, "%s %s", ref.Kind, m.ID)
		}
		if err := tx.Stage(ref, model.Patch{model.FieldDeleted: true}); err != nil {
			return err
		}
		cm, ok := v.(*model.Comment)
		if !ok {
			return nil
		}
		if r, err := reportOf(tx, cm.ReportID); err == nil {
			return tx.Stage(Ref{model.SubjectReport, r.ID}, model.Patch{model.FieldCommentCount: max(r.CommentCount-1, 0)})
		}
		return nil
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		if _, err := c.remote.Delete(ctx, ref.Kind.Collection(), m.ID); err != nil {
			return Resolution{}, err
		}
		return Resolution{Remove: []Ref{ref}}, nil
	}
	return op
}

func (c *Coordinator) setPriorityOp(m SetPriority) *operation {
	patch := model.Patch{
		model.FieldPriorityLevel: intPtr(m.Level),
		model.FieldPriority:      model.PriorityForLevel(m.Level),
	}
	op := &operation{kind: KindSetPriority, subject: m.ReportID, entityID: m.ReportID}
	op.stage = func(tx *Tx) error {
		if err := c.requirePatrol(); err != nil {
			return err
		}
		r, err := reportOf(tx, m.ReportID)
		if err != nil {
			return err
		}
		if model.IsTerminal(r.Status) {
			return invalidf("report %s is %s", r.ID, r.Status)
		}
		return tx.Stage(Ref{model.SubjectReport, r.ID}, patch)
	}
	op.write = c.updateReport(m.ReportID, patch, nil)
	op.audit = c.auditNote(m.ReportID, model.CommentTypeStatusUpdate,
		fmt.Sprintf("%s set the priority to %s (level %d)", c.displayName(), model.PriorityForLevel(m.Level), m.Level))
	return op
}

func (c *Coordinator) setStatusOp(m SetStatus) *operation {
	patch := model.Patch{model.FieldStatus: m.Status}
	op := &operation{kind: KindSetStatus, subject: m.ReportID, entityID: m.ReportID}
	var from model.ReportStatus
	op.stage = func(tx *Tx) error {
		if err := c.requirePatrol(); err != nil {
			return err
		}
		r, err := reportOf(tx, m.ReportID)
		if err != nil {
			return err
		}
		from = r.Status
		switch {
		case from == m.Status:
			return invalidf("report %s is already %s", r.ID, from)
		case from == model.StatusPending && m.Status == model.StatusInProgress:
			return invalidf("reports are moved to %s by claiming them", m.Status)
		case from == model.StatusInProgress && m.Status == model.StatusPending:
			return invalidf("reports are moved back to %s by unclaiming them", m.Status)
		case !model.CanTransition(from, m.Status):
			return invalidf("cannot move report from %s to %s", from, m.Status)
		case m.Status == model.StatusCancelled && !util.NotBlank(m.Reason):
			return invalidf("cancelling a report requires a reason")
		}
		if m.Status == model.StatusCancelled {
			patch[model.FieldCancelReason] = strings.TrimSpace(m.Reason)
		}
		if !model.HoldsClaim(m.Status) && (r.PatrolUserID != nil || r.AssignedTo != nil) {
			patch[model.FieldPatrolUserID] = noString
			patch[model.FieldAssignedTo] = noString
		}
		return tx.Stage(Ref{model.SubjectReport, r.ID}, patch)
	}
	op.write = c.updateReport(m.ReportID, patch, nil)
	op.audit = func() model.Comment {
		text := fmt.Sprintf("%s changed the status from %s to %s", c.displayName(), from, m.Status)
		if util.NotBlank(m.Reason) {
			text += ": " + strings.TrimSpace(m.Reason)
		}
		return c.auditNote(m.ReportID, model.CommentTypeStatusUpdate, text)()
	}
	return op
}

// updateReport writes patch and resolves the touched fields to the values
// the server persisted.
func (c *Coordinator) updateReport(id string, patch model.Patch, cond *model.Condition) func(ctx context.Context) (Resolution, error) {
	return func(ctx context.Context) (Resolution, error) {
		raw, err := c.remote.Update(ctx, model.CollectionReports, id, patch, cond)
		if err != nil {
			return Resolution{}, err
		}
		saved, err := decode[model.Report](raw)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Values: map[Ref]model.Patch{
			{model.SubjectReport, id}: reportValues(saved, patch),
		}}, nil
	}
}

func (c *Coordinator) createReportOp(m CreateReport) *operation {
	now := c.now()
	// server ids are accepted from the client, so a retried insert is
	// idempotent
	report := model.Report{
		ID:          uuid.NewString(),
		UserID:      c.identity.ActorID,
		Title:       strings.TrimSpace(m.Title),
		Description: strings.TrimSpace(m.Description),
		Category:    m.Category,
		Status:      model.StatusPending,
		Priority:    model.PriorityLow,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ref := Ref{model.SubjectReport, report.ID}
	op := &operation{kind: KindCreateReport, subject: report.ID, entityID: report.ID}
	op.stage = func(tx *Tx) error {
		return tx.Insert(&report)
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		raw, err := c.remote.Insert(ctx, model.CollectionReports, report)
		if err != nil {
			return Resolution{}, err
		}
		saved, err := decode[model.Report](raw)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Replace: map[Ref]any{ref: &saved}}, nil
	}

	if m.ImagePath != "" && c.uploader != nil {
		op.after = append(op.after, func(ctx context.Context) error {
			url, err := c.uploader.UploadImage(ctx, m.ImagePath, reportFolder)
			if err != nil {
				return errors.Wrap(err, "upload report image")
			}
			patch := model.Patch{model.FieldImageURL: url}
			if _, err := c.remote.Update(ctx, model.CollectionReports, report.ID, patch, nil); err != nil {
				return errors.Wrap(err, "attach report image")
			}
			_, err = c.cache.Merge(ref, patch)
			return err
		})
	}
	if c.points != nil {
		op.after = append(op.after, func(ctx context.Context) error {
			return c.points.Award(ctx, c.identity.ActorID, reportPoints, string(KindCreateReport))
		})
	}
	if c.notifier != nil {
		op.after = append(op.after, func(ctx context.Context) error {
			return c.notifier.Notify(ctx, c.identity.ActorID, fmt.Sprintf("Your report %q was submitted", report.Title))
		})
	}
	return op
}

// Load fetches a report with its comments and replies into the Cache.
func (c *Coordinator) Load(ctx context.Context, reportID string) error {
	raw, err := c.remote.Get(ctx, model.CollectionReports, reportID)
	if err != nil {
		return errors.Wrapf(err, "load report %s", reportID)
	}
	report, err := decode[model.Report](raw)
	if err != nil {
		return err
	}
	c.cache.PutReport(report)

	scope := model.Filter{ReportID: reportID}
	comments, err := c.remote.List(ctx, model.CollectionComments, scope)
	if err != nil {
		return errors.Wrapf(err, "load comments of %s", reportID)
	}
	for _, raw := range comments {
		cm, err := decode[model.Comment](raw)
		if err != nil {
			return err
		}
		c.cache.PutComment(cm)
	}

	replies, err := c.remote.List(ctx, model.CollectionReplies, scope)
	if err != nil {
		return errors.Wrapf(err, "load replies of %s", reportID)
	}
	for _, raw := range replies {
		r, err := decode[model.Reply](raw)
		if err != nil {
			return err
		}
		c.cache.PutReply(r)
	}
	return nil
}

// LoadFeed fetches the reports matching filter into the Cache.
func (c *Coordinator) LoadFeed(ctx context.Context, filter model.Filter) (int, error) {
	rows, err := c.remote.List(ctx, model.CollectionReports, filter)
	if err != nil {
		return 0, errors.Wrap(err, "load feed")
	}
	for _, raw := range rows {
		r, err := decode[model.Report](raw)
		if err != nil {
			return 0, err
		}
		c.cache.PutReport(r)
	}
	return len(rows), nil
}
