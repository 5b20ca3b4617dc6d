package model

var transitions = map[ReportStatus][]ReportStatus{
	StatusPending:              {StatusInProgress, StatusRejected, StatusCancelled},
	StatusInProgress:           {StatusAwaitingVerification, StatusPending, StatusCancelled},
	StatusAwaitingVerification: {StatusResolved, StatusVerifying, StatusCancelled},
	StatusVerifying:            {StatusResolved, StatusRejected, StatusCancelled},
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to ReportStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave s.
func IsTerminal(s ReportStatus) bool {
	return s == StatusResolved || s == StatusRejected || s == StatusCancelled
}

// IsKnownStatus reports whether s is one of the report statuses.
func IsKnownStatus(s ReportStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusAwaitingVerification, StatusVerifying,
		StatusResolved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// HoldsClaim reports whether a report in status s may carry a patrol claimant.
func HoldsClaim(s ReportStatus) bool {
	return s == StatusInProgress || s == StatusAwaitingVerification
}

// VerificationStatuses never appear in the general report feed.
var VerificationStatuses = []ReportStatus{StatusVerifying, StatusAwaitingVerification, StatusRejected}
