package livesync

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func transient() error { return errors.Wrap(ErrTransient, "connection reset by peer") }

func likeFixture(t *testing.T, opts ...Option) (*backend, *client) {
	t.Helper()
	b := newBackend()
	seedPendingReport(b, "r1")
	b.seedComment(model.Comment{ID: "c1", ReportID: "r1", UserID: patrolB.ActorID, Text: "Same on Oak Ave"})
	b.seedLikes(model.SubjectComment, "c1", 3)

	cl := newClient(t, b, citizen, opts...)
	cl.load(t, "r1")
	require.Equal(t, 3, cl.comment(t, "c1").LikeCount)
	return b, cl
}

func TestToggleLikeRollsBackOnNetworkError(t *testing.T) {
	b, cl := likeFixture(t)
	before := cl.comment(t, "c1")

	var during model.Comment
	var inflight bool
	b.onCall("insert", model.CollectionLikes, func() {
		during, _ = cl.cache.Comment("c1")
		inflight = cl.co.InFlight("c1")
	})
	b.failNext("insert", model.CollectionLikes, transient())

	out := cl.co.Propose(ctx, ToggleLike{SubjectID: "c1", SubjectKind: model.SubjectComment})

	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrTransient)
	assert.ErrorIs(t, out.Err, ErrOperationFailed)
	assert.Equal(t, 4, during.LikeCount)
	assert.True(t, during.LikedByMe)
	assert.True(t, inflight)

	assert.Equal(t, before, cl.comment(t, "c1"))
	assert.False(t, cl.co.InFlight("c1"))
	assert.False(t, cl.cache.Pending(Ref{model.SubjectComment, "c1"}))
	// only report creation retries by default
	assert.Equal(t, 1, b.callCount("insert", model.CollectionLikes))
}

func TestToggleLikeRoundTrip(t *testing.T) {
	b, cl := likeFixture(t)
	toggle := ToggleLike{SubjectID: "c1", SubjectKind: model.SubjectComment}

	out := cl.co.Propose(ctx, toggle)
	require.True(t, out.OK(), out.Err)
	got := cl.comment(t, "c1")
	assert.Equal(t, 4, got.LikeCount)
	assert.True(t, got.LikedByMe)
	assert.True(t, b.likedBy(model.SubjectComment, "c1", citizen.ActorID))

	out = cl.co.Propose(ctx, toggle)
	require.True(t, out.OK(), out.Err)
	got = cl.comment(t, "c1")
	assert.Equal(t, 3, got.LikeCount)
	assert.False(t, got.LikedByMe)
	assert.Equal(t, 1, b.callCount("delete", model.CollectionLikes))
}

func TestToggleLikeNeverGoesNegative(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, citizen)

	// a stale view that believes the actor likes a report nobody likes
	stale := b.report("r1")
	stale.LikedByMe = true
	cl.cache.PutReport(stale)

	out := cl.co.Propose(ctx, ToggleLike{SubjectID: "r1", SubjectKind: model.SubjectReport})
	require.True(t, out.OK(), out.Err)
	r := cl.report(t, "r1")
	assert.Equal(t, 0, r.LikeCount)
	assert.False(t, r.LikedByMe)

	for i := 0; i < 5; i++ {
		cl.co.Propose(ctx, ToggleLike{SubjectID: "r1", SubjectKind: model.SubjectReport})
		assert.GreaterOrEqual(t, cl.report(t, "r1").LikeCount, 0)
	}
	assert.GreaterOrEqual(t, b.report("r1").LikeCount, 0)
}

func TestToggleLikeRejectsUnsavedSubject(t *testing.T) {
	b, cl := likeFixture(t)

	out := cl.co.Propose(ctx, ToggleLike{SubjectID: "tmp_abc", SubjectKind: model.SubjectComment})
	assert.Equal(t, Invalid, out.Status)

	out = cl.co.Propose(ctx, ToggleLike{SubjectID: "missing", SubjectKind: model.SubjectComment})
	assert.Equal(t, Invalid, out.Status)
	assert.ErrorIs(t, out.Err, ErrUnknownEntity)

	assert.Zero(t, b.callCount("insert", model.CollectionLikes))
}

func TestRetryPolicyIsConfigurablePerKind(t *testing.T) {
	b, cl := likeFixture(t, WithRetryPolicy(KindToggleLike, RetryPolicy{Attempts: 2}))
	b.failNext("insert", model.CollectionLikes, transient())

	out := cl.co.Propose(ctx, ToggleLike{SubjectID: "c1", SubjectKind: model.SubjectComment})
	require.True(t, out.OK(), out.Err)
	assert.Equal(t, 2, b.callCount("insert", model.CollectionLikes))
	assert.Equal(t, 4, cl.comment(t, "c1").LikeCount)
}

func TestProposeRejectsInvalidInputBeforeTouchingCache(t *testing.T) {
	b, cl := likeFixture(t)
	reportVersion := cl.cache.Version(reportRef)
	commentVersion := cl.cache.Version(Ref{model.SubjectComment, "c1"})

	tests := []struct {
		name string
		m    Mutation
	}{
		{"nil mutation", nil},
		{"blank comment", AddComment{ReportID: "r1", Text: "   "}},
		{"comment too long", AddComment{ReportID: "r1", Text: strings.Repeat("x", 2001)}},
		{"reply without parent", AddReply{Text: "hi"}},
		{"blank edit", EditComment{ID: "c1", Text: "\t"}},
		{"unknown like subject", ToggleLike{SubjectID: "c1", SubjectKind: "post"}},
		{"priority out of range", SetPriority{ReportID: "r1", Level: 9}},
		{"unknown status", SetStatus{ReportID: "r1", Status: "archived"}},
		{"report without title", CreateReport{Title: " ", Category: "roads"}},
		{"report without category", CreateReport{Title: "Flooded underpass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := cl.co.Propose(ctx, tt.m)
			assert.Equal(t, Invalid, out.Status)
			assert.ErrorIs(t, out.Err, ErrValidation)
		})
	}

	assert.Equal(t, reportVersion, cl.cache.Version(reportRef))
	assert.Equal(t, commentVersion, cl.cache.Version(Ref{model.SubjectComment, "c1"}))
	assert.Len(t, cl.cache.Reports(), 1)
	assert.Len(t, cl.cache.Comments("r1"), 1)
	assert.Zero(t, b.callCount("insert", model.CollectionComments))
	assert.Zero(t, b.callCount("insert", model.CollectionReports))
	assert.Zero(t, b.callCount("update", model.CollectionReports))
}

func TestAddCommentReplacesTempEntity(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, citizen)
	cl.load(t, "r1")

	var during []model.Comment
	var count int
	b.onCall("insert", model.CollectionComments, func() {
		during = cl.cache.Comments("r1")
		count = cl.report(t, "r1").CommentCount
	})

	out := cl.co.Propose(ctx, AddComment{ReportID: "r1", Text: "  Reported to the council too  "})
	require.True(t, out.OK(), out.Err)

	require.Len(t, during, 1)
	assert.True(t, IsTemp(during[0].ID))
	assert.Equal(t, "Reported to the council too", during[0].Text)
	assert.Equal(t, 1, count)

	assert.False(t, IsTemp(out.EntityID))
	comments := cl.cache.Comments("r1")
	require.Len(t, comments, 1)
	assert.Equal(t, out.EntityID, comments[0].ID)
	assert.Equal(t, 1, cl.report(t, "r1").CommentCount)
	assert.Equal(t, 1, b.report("r1").CommentCount)
}

func TestAddCommentFailureRemovesTempEntity(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, citizen)
	cl.load(t, "r1")
	before := cl.report(t, "r1")

	b.failNext("insert", model.CollectionComments, transient())
	out := cl.co.Propose(ctx, AddComment{ReportID: "r1", Text: "hello"})

	assert.Equal(t, Failed, out.Status)
	assert.Empty(t, cl.cache.Comments("r1"))
	assert.Equal(t, before, cl.report(t, "r1"))
	assert.Equal(t, 1, b.callCount("insert", model.CollectionComments))
}

func TestAddCommentToUnknownReport(t *testing.T) {
	b := newBackend()
	cl := newClient(t, b, citizen)

	out := cl.co.Propose(ctx, AddComment{ReportID: "nope", Text: "hello"})
	assert.Equal(t, Invalid, out.Status)
	assert.ErrorIs(t, out.Err, ErrUnknownEntity)
}

func editFixture(t *testing.T) (*backend, *client) {
	t.Helper()
	b := newBackend()
	seedPendingReport(b, "r1")
	b.seedComment(model.Comment{ID: "c1", ReportID: "r1", UserID: citizen.ActorID, Text: "first"})
	cl := newClient(t, b, citizen)
	cl.load(t, "r1")
	return b, cl
}

func TestEditCommentRecordsHistory(t *testing.T) {
	_, cl := editFixture(t)

	out := cl.co.Propose(ctx, EditComment{ID: "c1", Text: "second"})
	require.True(t, out.OK(), out.Err)

	assert.Equal(t, "second", cl.comment(t, "c1").Text)
	history := cl.cache.History("c1")
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].PreviousText)
}

func TestEditCommentRollbackDropsHistory(t *testing.T) {
	b, cl := editFixture(t)

	var staged []model.EditHistoryEntry
	b.onCall("update", model.CollectionComments, func() {
		staged = cl.cache.History("c1")
	})
	b.failNext("update", model.CollectionComments, errors.Wrap(ErrRemoteRejected, "permission denied"))

	out := cl.co.Propose(ctx, EditComment{ID: "c1", Text: "second"})
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrRemoteRejected)

	assert.Len(t, staged, 1)
	assert.Equal(t, "first", cl.comment(t, "c1").Text)
	assert.Empty(t, cl.cache.History("c1"))
}

func TestEditCommentRules(t *testing.T) {
	b, _ := editFixture(t)
	other := newClient(t, b, patrolA)
	other.load(t, "r1")

	out := other.co.Propose(ctx, EditComment{ID: "c1", Text: "hijacked"})
	assert.Equal(t, Invalid, out.Status)
	assert.ErrorIs(t, out.Err, ErrNotAuthor)

	author := newClient(t, b, citizen)
	author.load(t, "r1")
	out = author.co.Propose(ctx, EditComment{ID: "c1", Text: " first "})
	assert.Equal(t, Invalid, out.Status)
	assert.ErrorIs(t, out.Err, ErrValidation)

	assert.Zero(t, b.callCount("update", model.CollectionComments))
}

func TestDeleteComment(t *testing.T) {
	b, cl := editFixture(t)
	require.Equal(t, 1, cl.report(t, "r1").CommentCount)

	out := cl.co.Propose(ctx, DeleteComment{ID: "c1"})
	require.True(t, out.OK(), out.Err)

	_, ok := cl.cache.Comment("c1")
	assert.False(t, ok)
	assert.Empty(t, cl.cache.Comments("r1"))
	assert.Equal(t, 0, cl.report(t, "r1").CommentCount)
	assert.Empty(t, b.commentsOf("r1"))
}

func TestDeleteCommentRollback(t *testing.T) {
	b, cl := editFixture(t)
	before := cl.comment(t, "c1")

	var hidden bool
	b.onCall("delete", model.CollectionComments, func() {
		hidden = len(cl.cache.Comments("r1")) == 0
	})
	b.failNext("delete", model.CollectionComments, transient())

	out := cl.co.Propose(ctx, DeleteComment{ID: "c1"})
	assert.Equal(t, Failed, out.Status)
	assert.True(t, hidden)
	assert.Equal(t, before, cl.comment(t, "c1"))
	assert.Equal(t, 1, cl.report(t, "r1").CommentCount)
}

func TestDeleteCommentRequiresAuthor(t *testing.T) {
	b, _ := editFixture(t)
	other := newClient(t, b, patrolA)
	other.load(t, "r1")

	out := other.co.Propose(ctx, DeleteComment{ID: "c1"})
	assert.Equal(t, Invalid, out.Status)
	assert.ErrorIs(t, out.Err, ErrNotAuthor)
	assert.Len(t, b.commentsOf("r1"), 1)
}

// Tab 1 holds an unconfirmed priority change while tab 2's comment pushes a
// comment_count event into tab 1.
func TestPendingPrioritySurvivesUnrelatedPush(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	tab1 := newClient(t, b, patrolA)
	tab2 := newClient(t, b, citizen)
	tab1.load(t, "r1")
	tab2.load(t, "r1")
	tab1.watchAll(t, model.Filter{ReportID: "r1"})

	var mid model.Report
	b.onCall("update", model.CollectionReports, func() {
		out := tab2.co.Propose(ctx, AddComment{ReportID: "r1", Text: "Still broken this morning"})
		require.True(t, out.OK(), out.Err)
		eventually(t, func() bool {
			return tab1.report(t, "r1").CommentCount == 1
		}, "comment_count push not merged")
		mid = tab1.report(t, "r1")
	})

	out := tab1.co.Propose(ctx, SetPriority{ReportID: "r1", Level: 5})
	require.True(t, out.OK(), out.Err)

	require.NotNil(t, mid.PriorityLevel)
	assert.Equal(t, 5, *mid.PriorityLevel)
	assert.Equal(t, model.PriorityUrgent, mid.Priority)
	assert.Equal(t, 1, mid.CommentCount)

	r := tab1.report(t, "r1")
	require.NotNil(t, r.PriorityLevel)
	assert.Equal(t, 5, *r.PriorityLevel)
	assert.GreaterOrEqual(t, r.CommentCount, 1)
}

func TestWriteResolvesOverRefetchDuringFlight(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	tab := newClient(t, b, patrolA)
	tab.load(t, "r1")

	// the view remounts and refetches while the update is on the wire;
	// no subscription exists to push the result afterwards
	b.onCall("update", model.CollectionReports, func() {
		tab.load(t, "r1")
	})

	out := tab.co.Propose(ctx, SetPriority{ReportID: "r1", Level: 5})
	require.True(t, out.OK(), out.Err)

	server := b.report("r1")
	require.NotNil(t, server.PriorityLevel)
	require.Equal(t, 5, *server.PriorityLevel)

	r := tab.report(t, "r1")
	require.NotNil(t, r.PriorityLevel)
	assert.Equal(t, 5, *r.PriorityLevel)
	assert.Equal(t, model.PriorityUrgent, r.Priority)
	assert.False(t, tab.cache.Pending(reportRef))
}

func TestSetPriorityRules(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	b.seedReport(model.Report{ID: "r2", Title: "Old", Status: model.StatusResolved})

	resident := newClient(t, b, citizen)
	resident.load(t, "r1")
	out := resident.co.Propose(ctx, SetPriority{ReportID: "r1", Level: 3})
	assert.Equal(t, Invalid, out.Status)

	patrol := newClient(t, b, patrolA)
	patrol.load(t, "r2")
	out = patrol.co.Propose(ctx, SetPriority{ReportID: "r2", Level: 3})
	assert.Equal(t, Invalid, out.Status)

	assert.Zero(t, b.callCount("update", model.CollectionReports))
}

func TestSetStatusAlongTheWorkflow(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	b.setClaimant("r1", patrolA.ActorID)
	cl := newClient(t, b, patrolA)
	cl.load(t, "r1")

	out := cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: model.StatusAwaitingVerification})
	require.True(t, out.OK(), out.Err)
	r := cl.report(t, "r1")
	assert.Equal(t, model.StatusAwaitingVerification, r.Status)
	require.NotNil(t, r.PatrolUserID)
	assert.Equal(t, patrolA.ActorID, *r.PatrolUserID)
	cl.co.Flush()

	out = cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: model.StatusResolved})
	require.True(t, out.OK(), out.Err)
	r = cl.report(t, "r1")
	assert.Equal(t, model.StatusResolved, r.Status)
	assert.Nil(t, r.PatrolUserID)
	assert.Nil(t, b.report("r1").PatrolUserID)

	cl.co.Flush()
	var notes []string
	for _, c := range b.commentsOf("r1") {
		if c.Type == model.CommentTypeStatusUpdate {
			notes = append(notes, c.Text)
		}
	}
	assert.Equal(t, []string{
		"Ada changed the status from in_progress to awaiting_verification",
		"Ada changed the status from awaiting_verification to resolved",
	}, notes)
}

func TestSetStatusCancelNeedsReason(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, patrolA)
	cl.load(t, "r1")

	out := cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: model.StatusCancelled})
	assert.Equal(t, Invalid, out.Status)

	out = cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: model.StatusCancelled, Reason: " duplicate of #12 "})
	require.True(t, out.OK(), out.Err)
	r := cl.report(t, "r1")
	assert.Equal(t, model.StatusCancelled, r.Status)
	assert.Equal(t, "duplicate of #12", r.CancelReason)

	cl.co.Flush()
	comments := b.commentsOf("r1")
	require.Len(t, comments, 1)
	assert.Equal(t, "Ada changed the status from pending to cancelled: duplicate of #12", comments[0].Text)
}

func TestSetStatusRejectsIllegalTransitions(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, patrolA)
	cl.load(t, "r1")

	for _, to := range []model.ReportStatus{
		model.StatusPending,
		model.StatusInProgress,
		model.StatusResolved,
		model.StatusVerifying,
	} {
		out := cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: to})
		assert.Equal(t, Invalid, out.Status, "pending -> %s", to)
	}
	assert.Zero(t, b.callCount("update", model.CollectionReports))
	assert.Equal(t, model.StatusPending, cl.report(t, "r1").Status)
}

func TestSetStatusRollsBackOnRejection(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, patrolA)
	cl.load(t, "r1")
	before := cl.report(t, "r1")

	b.failNext("update", model.CollectionReports, errors.Wrap(ErrRemoteRejected, "permission denied"))
	out := cl.co.Propose(ctx, SetStatus{ReportID: "r1", Status: model.StatusRejected, Reason: "not a public road"})

	assert.Equal(t, Failed, out.Status)
	assert.Equal(t, before, cl.report(t, "r1"))
	cl.co.Flush()
	assert.Empty(t, b.commentsOf("r1"))
}

type effects struct {
	mu        sync.Mutex
	uploads   []string
	awarded   map[string]int
	notes     []string
	uploadErr error
	awardErr  error
	panics    bool
}

func (e *effects) UploadImage(_ context.Context, filePath, folder string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.uploadErr != nil {
		return "", e.uploadErr
	}
	e.uploads = append(e.uploads, filePath)
	return "https://res.cloudinary.com/demo/" + folder + "/photo.jpg", nil
}

func (e *effects) Award(_ context.Context, userID string, points int, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.awardErr != nil {
		return e.awardErr
	}
	if e.awarded == nil {
		e.awarded = make(map[string]int)
	}
	e.awarded[userID] += points
	return nil
}

func (e *effects) Notify(_ context.Context, _ string, message string) error {
	if e.panics {
		panic("notifier exploded")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes = append(e.notes, message)
	return nil
}

func newReportClient(t *testing.T, b *backend, fx *effects) *client {
	return newClient(t, b, citizen, WithUploader(fx), WithPoints(fx), WithNotifier(fx))
}

func TestCreateReportRunsSideEffects(t *testing.T) {
	b := newBackend()
	fx := &effects{}
	cl := newReportClient(t, b, fx)

	out := cl.co.Propose(ctx, CreateReport{
		Title:     "Fallen tree blocking lane",
		Category:  "roads",
		ImagePath: "/tmp/tree.jpg",
	})
	require.True(t, out.OK(), out.Err)
	cl.co.Flush()

	r := cl.report(t, out.EntityID)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, citizen.ActorID, r.UserID)
	assert.Equal(t, "https://res.cloudinary.com/demo/reports/photo.jpg", r.ImageURL)
	assert.Equal(t, r.ImageURL, b.report(out.EntityID).ImageURL)
	assert.Equal(t, []string{"/tmp/tree.jpg"}, fx.uploads)
	assert.Equal(t, 10, fx.awarded[citizen.ActorID])
	assert.Equal(t, []string{`Your report "Fallen tree blocking lane" was submitted`}, fx.notes)
}

func TestCreateReportRetriesTransientFailures(t *testing.T) {
	b := newBackend()
	cl := newClient(t, b, citizen)

	var shown bool
	b.onCall("insert", model.CollectionReports, func() {
		shown = len(cl.cache.Reports()) == 1
	})
	b.failNext("insert", model.CollectionReports, transient(), transient())

	out := cl.co.Propose(ctx, CreateReport{Title: "Graffiti on bridge", Category: "vandalism"})
	require.True(t, out.OK(), out.Err)
	assert.True(t, shown)
	assert.Equal(t, 3, b.callCount("insert", model.CollectionReports))
	assert.Equal(t, "Graffiti on bridge", b.report(out.EntityID).Title)
	assert.False(t, cl.cache.Pending(Ref{model.SubjectReport, out.EntityID}))
	assert.Equal(t, 2, cl.logs.FilterMessage("retrying remote write").Len())
}

func TestCreateReportGivesUpAfterThreeAttempts(t *testing.T) {
	b := newBackend()
	fx := &effects{}
	cl := newReportClient(t, b, fx)
	b.failNext("insert", model.CollectionReports, transient(), transient(), transient())

	out := cl.co.Propose(ctx, CreateReport{Title: "Graffiti on bridge", Category: "vandalism"})
	assert.Equal(t, Failed, out.Status)
	assert.ErrorIs(t, out.Err, ErrTransient)
	assert.Equal(t, 3, b.callCount("insert", model.CollectionReports))
	assert.Empty(t, cl.cache.Reports())

	cl.co.Flush()
	assert.Empty(t, fx.awarded)
	assert.Empty(t, fx.notes)
}

func TestCreateReportDoesNotRetryRejections(t *testing.T) {
	b := newBackend()
	cl := newClient(t, b, citizen)
	b.failNext("insert", model.CollectionReports, errors.Wrap(ErrRemoteRejected, "quota exceeded"))

	out := cl.co.Propose(ctx, CreateReport{Title: "Graffiti on bridge", Category: "vandalism"})
	assert.Equal(t, Failed, out.Status)
	assert.Equal(t, 1, b.callCount("insert", model.CollectionReports))
}

func TestSideEffectFailuresAreOnlyLogged(t *testing.T) {
	b := newBackend()
	fx := &effects{
		uploadErr: errors.New("cloudinary unavailable"),
		awardErr:  errors.New("points service down"),
		panics:    true,
	}
	cl := newReportClient(t, b, fx)

	out := cl.co.Propose(ctx, CreateReport{Title: "Leaking hydrant", Category: "water", ImagePath: "/tmp/h.jpg"})
	require.True(t, out.OK(), out.Err)
	cl.co.Flush()

	r := cl.report(t, out.EntityID)
	assert.Empty(t, r.ImageURL)
	assert.Equal(t, 2, cl.logs.FilterMessage("side effect failed").Len())
	assert.Equal(t, 1, cl.logs.FilterMessage("side effect panicked").Len())
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	cl := newClient(t, b, patrolA)
	cl.load(t, "r1")
	b.failNext("insert", model.CollectionComments, errors.Wrap(ErrRemoteRejected, "comments disabled"))

	out := cl.co.Propose(ctx, SetPriority{ReportID: "r1", Level: 2})
	require.True(t, out.OK(), out.Err)
	cl.co.Flush()

	assert.Equal(t, 1, cl.logs.FilterMessage("side effect failed").Len())
	assert.Equal(t, model.PriorityLow, b.report("r1").Priority)
	require.NotNil(t, b.report("r1").PriorityLevel)
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b, cl := likeFixture(t, WithMetrics(m))

	b.failNext("insert", model.CollectionLikes, transient())
	cl.co.Propose(ctx, ToggleLike{SubjectID: "c1", SubjectKind: model.SubjectComment})
	cl.co.Propose(ctx, ToggleLike{SubjectID: "c1", SubjectKind: model.SubjectComment})
	cl.co.Propose(ctx, AddComment{ReportID: "r1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("toggle_like", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("toggle_like", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("add_comment", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks.WithLabelValues("toggle_like")))
}

func TestLoadFeed(t *testing.T) {
	b := newBackend()
	seedPendingReport(b, "r1")
	b.seedReport(model.Report{ID: "r2", Title: "Pothole", Category: "roads"})
	b.seedReport(model.Report{ID: "r3", Title: "Dumped sofa", Category: "waste"})
	cl := newClient(t, b, citizen)

	n, err := cl.co.LoadFeed(ctx, model.Filter{Category: "roads"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := cl.cache.Report("r2")
	assert.True(t, ok)
	_, ok = cl.cache.Report("r3")
	assert.False(t, ok)
}

func TestLoadUnknownReport(t *testing.T) {
	b := newBackend()
	cl := newClient(t, b, citizen)
	err := cl.co.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
