package livesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
)

// backend is an in-memory data provider with the semantics the REST server
// has: conditional claim writes, like uniqueness, count bookkeeping and
// change events for every write.
type backend struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	reports  map[string]model.Report
	comments map[string]model.Comment
	replies  map[string]model.Reply
	likes    map[string]model.Like
	history  []model.EditHistoryEntry
	failures map[string][]error
	hooks    map[string]func()
	calls    map[string]int
	subs     map[int]backendSub
	nextSub  int
}

type backendSub struct {
	channel model.Channel
	filter  model.Filter
	handler func(model.ChangeEvent)
}

func newBackend() *backend {
	return &backend{
		clock:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		reports:  make(map[string]model.Report),
		comments: make(map[string]model.Comment),
		replies:  make(map[string]model.Reply),
		likes:    make(map[string]model.Like),
		failures: make(map[string][]error),
		hooks:    make(map[string]func()),
		calls:    make(map[string]int),
		subs:     make(map[int]backendSub),
	}
}

func opKey(op string, c model.Collection) string { return op + ":" + string(c) }

func (b *backend) tick() time.Time {
	b.clock = b.clock.Add(time.Second)
	return b.clock
}

func (b *backend) newID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

// failNext makes the next len(errs) calls of op on c fail in order.
func (b *backend) failNext(op string, c model.Collection, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := opKey(op, c)
	b.failures[key] = append(b.failures[key], errs...)
}

// onCall runs fn at the start of every op on c, before it takes effect.
func (b *backend) onCall(op string, c model.Collection, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[opKey(op, c)] = fn
}

func (b *backend) callCount(op string, c model.Collection) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[opKey(op, c)]
}

func (b *backend) enter(op string, c model.Collection) error {
	key := opKey(op, c)
	b.mu.Lock()
	b.calls[key]++
	hook := b.hooks[key]
	var err error
	if q := b.failures[key]; len(q) > 0 {
		err, b.failures[key] = q[0], q[1:]
	}
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (b *backend) seedReport(r model.Report) model.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = b.tick()
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	b.reports[r.ID] = r
	return r
}

func (b *backend) seedComment(c model.Comment) model.Comment {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = b.tick()
	}
	if c.Type == "" {
		c.Type = model.CommentTypeComment
	}
	b.comments[c.ID] = c
	if r, ok := b.reports[c.ReportID]; ok {
		r.CommentCount++
		b.reports[r.ID] = r
	}
	return c
}

func (b *backend) seedReply(r model.Reply) model.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = b.tick()
	}
	b.replies[r.ID] = r
	return r
}

// seedLikes adds n likes from other users to a subject.
func (b *backend) seedLikes(kind model.SubjectKind, id string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		user := fmt.Sprintf("fan-%d", i)
		b.likes[model.LikeID(kind, id, user)] = model.Like{SubjectID: id, SubjectKind: kind, UserID: user}
		b.adjustLikes(kind, id, 1)
	}
}

func (b *backend) report(id string) model.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reports[id]
}

func (b *backend) commentsOf(reportID string) []model.Comment {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Comment
	for _, c := range b.comments {
		if c.ReportID == reportID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (b *backend) setClaimant(reportID, actor string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.reports[reportID]
	r.PatrolUserID = &actor
	r.Status = model.StatusInProgress
	b.reports[reportID] = r
}

func (b *backend) adjustLikes(kind model.SubjectKind, id string, delta int) (count int, reportID string) {
	switch kind {
	case model.SubjectReport:
		r := b.reports[id]
		r.LikeCount = max(r.LikeCount+delta, 0)
		b.reports[id] = r
		return r.LikeCount, id
	case model.SubjectComment:
		c := b.comments[id]
		c.LikeCount = max(c.LikeCount+delta, 0)
		b.comments[id] = c
		return c.LikeCount, c.ReportID
	default:
		r := b.replies[id]
		r.LikeCount = max(r.LikeCount+delta, 0)
		b.replies[id] = r
		return r.LikeCount, r.ReportID
	}
}

func (b *backend) likedBy(kind model.SubjectKind, id, user string) bool {
	_, ok := b.likes[model.LikeID(kind, id, user)]
	return ok
}

func (b *backend) Subscribe(channel model.Channel, filter model.Filter, handler func(model.ChangeEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = backendSub{channel: channel, filter: filter, handler: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}, nil
}

func (b *backend) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// publish delivers ev to matching subscribers. Callers must not hold b.mu.
func (b *backend) publish(ev model.ChangeEvent) {
	b.mu.Lock()
	var handlers []func(model.ChangeEvent)
	for _, s := range b.subs {
		if s.channel != ev.Channel {
			continue
		}
		if s.filter.ReportID != "" && s.filter.ReportID != ev.ReportID && s.filter.ReportID != ev.EntityID {
			continue
		}
		handlers = append(handlers, s.handler)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func rawFields(fields map[string]any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, _ := json.Marshal(v)
		out[k] = raw
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func roundTrip(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// as returns the Remote a client authenticated as actor talks to.
func (b *backend) as(actor string) *remoteView {
	return &remoteView{b: b, actor: actor}
}

type remoteView struct {
	b     *backend
	actor string
}

func (v *remoteView) viewReport(r model.Report) json.RawMessage {
	r.LikedByMe = v.b.likedBy(model.SubjectReport, r.ID, v.actor)
	return mustJSON(r)
}

func (v *remoteView) Insert(_ context.Context, c model.Collection, record any) (json.RawMessage, error) {
	if err := v.b.enter("insert", c); err != nil {
		return nil, err
	}
	b := v.b
	var events []model.ChangeEvent
	defer func() {
		for _, ev := range events {
			b.publish(ev)
		}
	}()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch c {
	case model.CollectionReports:
		var r model.Report
		if err := roundTrip(record, &r); err != nil {
			return nil, errors.Wrap(ErrRemoteRejected, err.Error())
		}
		if existing, ok := b.reports[r.ID]; ok {
			return v.viewReport(existing), nil
		}
		r.CreatedAt, r.UpdatedAt = b.tick(), b.clock
		r.Status, r.LikeCount, r.CommentCount = model.StatusPending, 0, 0
		b.reports[r.ID] = r
		events = append(events, model.ChangeEvent{Channel: model.ChannelReportCreated, EntityID: r.ID, ReportID: r.ID, Record: mustJSON(r)})
		return v.viewReport(r), nil

	case model.CollectionComments:
		var cm model.Comment
		if err := roundTrip(record, &cm); err != nil {
			return nil, errors.Wrap(ErrRemoteRejected, err.Error())
		}
		r, ok := b.reports[cm.ReportID]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "report %s", cm.ReportID)
		}
		cm.ID, cm.CreatedAt = b.newID("c"), b.tick()
		b.comments[cm.ID] = cm
		r.CommentCount++
		b.reports[r.ID] = r
		events = append(events, model.ChangeEvent{
			Channel: model.ChannelCommentCount, EntityID: r.ID, ReportID: r.ID,
			Fields: rawFields(map[string]any{model.FieldCommentCount: r.CommentCount}),
		})
		return mustJSON(cm), nil

	case model.CollectionReplies:
		var rp model.Reply
		if err := roundTrip(record, &rp); err != nil {
			return nil, errors.Wrap(ErrRemoteRejected, err.Error())
		}
		_, isComment := b.comments[rp.ParentID]
		_, isReply := b.replies[rp.ParentID]
		if !isComment && !isReply {
			return nil, errors.Wrapf(ErrNotFound, "parent %s", rp.ParentID)
		}
		rp.ID, rp.CreatedAt = b.newID("r"), b.tick()
		b.replies[rp.ID] = rp
		return mustJSON(rp), nil

	case model.CollectionLikes:
		var l model.Like
		if err := roundTrip(record, &l); err != nil {
			return nil, errors.Wrap(ErrRemoteRejected, err.Error())
		}
		key := model.LikeID(l.SubjectKind, l.SubjectID, l.UserID)
		if _, exists := b.likes[key]; !exists {
			b.likes[key] = l
			count, reportID := b.adjustLikes(l.SubjectKind, l.SubjectID, 1)
			events = append(events, model.ChangeEvent{
				Channel: model.ChannelLikeCount, EntityID: l.SubjectID, SubjectKind: l.SubjectKind, ReportID: reportID,
				Fields: rawFields(map[string]any{model.FieldLikeCount: count}),
			})
		}
		l.LikeCount, _ = b.adjustLikes(l.SubjectKind, l.SubjectID, 0)
		return mustJSON(l), nil

	case model.CollectionEditHistory:
		return nil, errors.Wrap(ErrRemoteRejected, "edit history is append-only through updates")
	}
	return nil, errors.Wrapf(ErrRemoteRejected, "unknown collection %s", c)
}

func (v *remoteView) Update(_ context.Context, c model.Collection, id string, patch model.Patch, cond *model.Condition) (json.RawMessage, error) {
	if err := v.b.enter("update", c); err != nil {
		return nil, err
	}
	b := v.b
	var events []model.ChangeEvent
	defer func() {
		for _, ev := range events {
			b.publish(ev)
		}
	}()
	b.mu.Lock()
	defer b.mu.Unlock()

	var wire map[string]json.RawMessage
	if err := roundTrip(patch, &wire); err != nil {
		return nil, errors.Wrap(ErrRemoteRejected, err.Error())
	}
	decoded, err := model.DecodePatch(wire)
	if err != nil {
		return nil, errors.Wrap(ErrRemoteRejected, err.Error())
	}

	switch c {
	case model.CollectionReports:
		r, ok := b.reports[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "report %s", id)
		}
		if cond != nil && r.PatrolUserID != nil && *r.PatrolUserID != cond.UnsetOr {
			return nil, errors.Wrapf(ErrConflict, "report %s held by %s", id, *r.PatrolUserID)
		}
		for f, val := range decoded {
			if err := applyField(&r, f, val); err != nil {
				return nil, errors.Wrap(ErrRemoteRejected, err.Error())
			}
		}
		r.UpdatedAt = b.tick()
		b.reports[id] = r
		events = append(events, model.ChangeEvent{Channel: model.ChannelReportStatus, EntityID: id, ReportID: id, Fields: wire})
		return v.viewReport(r), nil

	case model.CollectionComments:
		cm, ok := b.comments[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "comment %s", id)
		}
		text, _ := decoded[model.FieldText].(string)
		b.history = append(b.history, model.EditHistoryEntry{ID: b.newID("h"), CommentID: id, PreviousText: cm.Text, EditedAt: b.tick()})
		cm.Text, cm.UpdatedAt = text, b.clock
		b.comments[id] = cm
		return mustJSON(cm), nil

	case model.CollectionReplies:
		rp, ok := b.replies[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "reply %s", id)
		}
		text, _ := decoded[model.FieldText].(string)
		b.history = append(b.history, model.EditHistoryEntry{ID: b.newID("h"), CommentID: id, PreviousText: rp.Text, EditedAt: b.tick()})
		rp.Text = text
		b.replies[id] = rp
		return mustJSON(rp), nil
	}
	return nil, errors.Wrapf(ErrRemoteRejected, "cannot update %s", c)
}

func (v *remoteView) Delete(_ context.Context, c model.Collection, id string) (json.RawMessage, error) {
	if err := v.b.enter("delete", c); err != nil {
		return nil, err
	}
	b := v.b
	var events []model.ChangeEvent
	defer func() {
		for _, ev := range events {
			b.publish(ev)
		}
	}()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch c {
	case model.CollectionLikes:
		kind, subject, user, err := model.ParseLikeID(id)
		if err != nil {
			return nil, errors.Wrap(ErrRemoteRejected, err.Error())
		}
		l := model.Like{SubjectID: subject, SubjectKind: kind, UserID: user}
		if _, ok := b.likes[id]; ok {
			delete(b.likes, id)
			count, reportID := b.adjustLikes(kind, subject, -1)
			events = append(events, model.ChangeEvent{
				Channel: model.ChannelLikeCount, EntityID: subject, SubjectKind: kind, ReportID: reportID,
				Fields: rawFields(map[string]any{model.FieldLikeCount: count}),
			})
		}
		l.LikeCount, _ = b.adjustLikes(kind, subject, 0)
		return mustJSON(l), nil

	case model.CollectionComments:
		cm, ok := b.comments[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "comment %s", id)
		}
		delete(b.comments, id)
		if r, ok := b.reports[cm.ReportID]; ok {
			r.CommentCount = max(r.CommentCount-1, 0)
			b.reports[r.ID] = r
			events = append(events, model.ChangeEvent{
				Channel: model.ChannelCommentCount, EntityID: r.ID, ReportID: r.ID,
				Fields: rawFields(map[string]any{model.FieldCommentCount: r.CommentCount}),
			})
		}
		return mustJSON(cm), nil

	case model.CollectionReplies:
		rp, ok := b.replies[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "reply %s", id)
		}
		delete(b.replies, id)
		return mustJSON(rp), nil
	}
	return nil, errors.Wrapf(ErrRemoteRejected, "cannot delete from %s", c)
}

func (v *remoteView) Get(_ context.Context, c model.Collection, id string) (json.RawMessage, error) {
	if err := v.b.enter("get", c); err != nil {
		return nil, err
	}
	b := v.b
	b.mu.Lock()
	defer b.mu.Unlock()

	switch c {
	case model.CollectionReports:
		if r, ok := b.reports[id]; ok {
			return v.viewReport(r), nil
		}
	case model.CollectionComments:
		if cm, ok := b.comments[id]; ok {
			cm.LikedByMe = b.likedBy(model.SubjectComment, id, v.actor)
			return mustJSON(cm), nil
		}
	case model.CollectionReplies:
		if rp, ok := b.replies[id]; ok {
			rp.LikedByMe = b.likedBy(model.SubjectReply, id, v.actor)
			return mustJSON(rp), nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%s %s", c, id)
}

func (v *remoteView) List(_ context.Context, c model.Collection, filter model.Filter) ([]json.RawMessage, error) {
	if err := v.b.enter("list", c); err != nil {
		return nil, err
	}
	b := v.b
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []json.RawMessage
	switch c {
	case model.CollectionReports:
		for _, r := range b.reports {
			if filter.Matches(r) {
				out = append(out, v.viewReport(r))
			}
		}
	case model.CollectionComments:
		for _, cm := range b.comments {
			if filter.ReportID == "" || cm.ReportID == filter.ReportID {
				cm.LikedByMe = b.likedBy(model.SubjectComment, cm.ID, v.actor)
				out = append(out, mustJSON(cm))
			}
		}
	case model.CollectionReplies:
		for _, rp := range b.replies {
			if (filter.ReportID == "" || rp.ReportID == filter.ReportID) &&
				(filter.CommentID == "" || rp.CommentID == filter.CommentID) {
				rp.LikedByMe = b.likedBy(model.SubjectReply, rp.ID, v.actor)
				out = append(out, mustJSON(rp))
			}
		}
	case model.CollectionEditHistory:
		for i := len(b.history) - 1; i >= 0; i-- {
			if h := b.history[i]; h.CommentID == filter.CommentID {
				out = append(out, mustJSON(h))
			}
		}
	default:
		return nil, errors.Wrapf(ErrRemoteRejected, "cannot list %s", c)
	}
	return out, nil
}
