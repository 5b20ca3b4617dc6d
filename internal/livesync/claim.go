package livesync

import (
	"context"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
)

// ClaimProtocol gives exactly one patrol actor a pending report. The cache
// pre-check only fails fast; exclusivity comes from the conditional write
// and the verification read that follows it.
type ClaimProtocol struct {
	co *Coordinator
}

func (c *Coordinator) Claims() *ClaimProtocol {
	return &ClaimProtocol{co: c}
}

// Claim accepts reportID for the coordinator's actor. A lost race returns a
// Conflict outcome whose error matches ErrAlreadyClaimed.
func (p *ClaimProtocol) Claim(ctx context.Context, reportID string) Outcome {
	return p.co.Propose(ctx, ClaimReport{ReportID: reportID})
}

// Unclaim releases a report the actor holds and returns it to pending.
func (p *ClaimProtocol) Unclaim(ctx context.Context, reportID string) Outcome {
	return p.co.Propose(ctx, UnclaimReport{ReportID: reportID})
}

// Claimant returns the displayed claimant of a report.
func (p *ClaimProtocol) Claimant(reportID string) (string, bool) {
	r, ok := p.co.cache.Report(reportID)
	if !ok || r.PatrolUserID == nil {
		return "", false
	}
	return *r.PatrolUserID, true
}

func (c *Coordinator) claimCondition() *model.Condition {
	return &model.Condition{Field: model.FieldPatrolUserID, UnsetOr: c.identity.ActorID}
}

func (c *Coordinator) claimOp(reportID string) *operation {
	actor := c.identity.ActorID
	patch := model.Patch{
		model.FieldPatrolUserID: strPtr(actor),
		model.FieldAssignedTo:   strPtr(c.displayName()),
		model.FieldStatus:       model.StatusInProgress,
	}
	ref := Ref{model.SubjectReport, reportID}
	op := &operation{kind: KindClaimReport, subject: reportID, entityID: reportID}
	op.stage = func(tx *Tx) error {
		if err := c.requirePatrol(); err != nil {
			return err
		}
		r, err := reportOf(tx, reportID)
		if err != nil {
			return err
		}
		if r.PatrolUserID != nil {
			if *r.PatrolUserID != actor {
				return errors.Wrapf(ErrAlreadyClaimed, "report %s is held by %s", reportID, *r.PatrolUserID)
			}
			op.noop = true
			return nil
		}
		if r.Status != model.StatusPending {
			return invalidf("cannot claim a %s report", r.Status)
		}
		return tx.Stage(ref, patch)
	}
	op.write = func(ctx context.Context) (Resolution, error) {
		if _, err := c.remote.Update(ctx, model.CollectionReports, reportID, patch, c.claimCondition()); err != nil {
			if errors.Is(err, ErrConflict) {
				return Resolution{}, errors.Wrapf(ErrAlreadyClaimed, "report %s: %v", reportID, err)
			}
			return Resolution{}, err
		}
		raw, err := c.remote.Get(ctx, model.CollectionReports, reportID)
		if err != nil {
			return Resolution{}, errors.Wrap(err, "verify claim")
		}
		verified, err := decode[model.Report](raw)
		if err != nil {
			return Resolution{}, err
		}
		if verified.PatrolUserID == nil || *verified.PatrolUserID != actor {
			return Resolution{}, errors.Wrapf(ErrAlreadyClaimed, "report %s lost on verification", reportID)
		}
		return Resolution{Values: map[Ref]model.Patch{ref: reportValues(verified, patch)}}, nil
	}
	op.audit = c.auditNote(reportID, model.CommentTypeAssignment, c.displayName()+" accepted this report")
	return op
}

func (c *Coordinator) unclaimOp(reportID string) *operation {
	patch := model.Patch{
		model.FieldPatrolUserID: noString,
		model.FieldAssignedTo:   noString,
		model.FieldStatus:       model.StatusPending,
	}
	ref := Ref{model.SubjectReport, reportID}
	op := &operation{kind: KindUnclaimReport, subject: reportID, entityID: reportID}
	op.stage = func(tx *Tx) error {
		if err := c.requirePatrol(); err != nil {
			return err
		}
		r, err := reportOf(tx, reportID)
		if err != nil {
			return err
		}
		if r.PatrolUserID == nil || *r.PatrolUserID != c.identity.ActorID {
			return invalidf("report %s is not claimed by %s", reportID, c.identity.ActorID)
		}
		if !model.CanTransition(r.Status, model.StatusPending) {
			return invalidf("cannot release a %s report", r.Status)
		}
		return tx.Stage(ref, patch)
	}
	op.write = c.updateReport(reportID, patch, c.claimCondition())
	op.audit = c.auditNote(reportID, model.CommentTypeAssignment, c.displayName()+" released this report")
	return op
}
