package consensus

import (
	"testing"

	"github.com/example/carpool/internal/models"
)

func ballot(decisions ...models.Decision) []models.Approval {
	out := make([]models.Approval, len(decisions))
	for i, d := range decisions {
		out[i] = models.Approval{VoterID: string(rune('a' + i)), Role: models.RoleClient, Decision: d}
	}
	return out
}

func TestRecomputeBallotStatus(t *testing.T) {
	cases := []struct {
		name string
		in   []models.Approval
		want models.RequestStatus
	}{
		{"all undecided", ballot(models.DecisionUndecided, models.DecisionUndecided), models.RequestPending},
		{"partial approval", ballot(models.DecisionApproved, models.DecisionUndecided), models.RequestPending},
		{"unanimous approval", ballot(models.DecisionApproved, models.DecisionApproved), models.RequestAccepted},
		{"single voter approved", ballot(models.DecisionApproved), models.RequestAccepted},
		{"one denial beats any approvals", ballot(models.DecisionApproved, models.DecisionDenied, models.DecisionUndecided), models.RequestRejected},
		{"denial first", ballot(models.DecisionDenied, models.DecisionApproved), models.RequestRejected},
		{"empty ballot stays pending", nil, models.RequestPending},
	}
	for _, tc := range cases {
		if got := recomputeBallotStatus(tc.in); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestRemoveBallot(t *testing.T) {
	in := []models.Approval{
		{VoterID: "drv", Role: models.RoleDriver, Decision: models.DecisionApproved},
		{VoterID: "c1", Role: models.RoleClient, Decision: models.DecisionDenied},
	}
	out, removed := removeBallot(in, "c1")
	if !removed || len(out) != 1 || out[0].VoterID != "drv" {
		t.Fatalf("unexpected removal result: %v %v", out, removed)
	}
	if recomputeBallotStatus(out) != models.RequestAccepted {
		t.Fatal("removing the sole objector should leave a unanimous ballot")
	}

	out2, removed2 := removeBallot(out, "ghost")
	if removed2 || len(out2) != 1 {
		t.Fatalf("removing an absent voter must be a no-op: %v %v", out2, removed2)
	}
}
