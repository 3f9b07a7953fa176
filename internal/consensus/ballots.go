package consensus

import "github.com/example/carpool/internal/models"

// recomputeBallotStatus derives a request's status from its ballot set alone.
// Every ballot mutation (vote, entry removal, retroactive entry) funnels
// through this one unanimity check: a single denial is terminal, and only a
// non-empty all-approved ballot clears the way for admission.
func recomputeBallotStatus(approvals []models.Approval) models.RequestStatus {
	if len(approvals) == 0 {
		return models.RequestPending
	}
	allApproved := true
	for _, a := range approvals {
		switch a.Decision {
		case models.DecisionDenied:
			return models.RequestRejected
		case models.DecisionApproved:
		default:
			allApproved = false
		}
	}
	if allApproved {
		return models.RequestAccepted
	}
	return models.RequestPending
}

// ballotIndex finds the voter's entry, -1 when absent.
func ballotIndex(approvals []models.Approval, voterID string) int {
	for i, a := range approvals {
		if a.VoterID == voterID {
			return i
		}
	}
	return -1
}

// removeBallot splices out the voter's entry, reporting whether one existed.
func removeBallot(approvals []models.Approval, voterID string) ([]models.Approval, bool) {
	i := ballotIndex(approvals, voterID)
	if i < 0 {
		return approvals, false
	}
	return append(approvals[:i], approvals[i+1:]...), true
}
