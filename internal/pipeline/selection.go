package pipeline

import (
	"github.com/outreachkit/email-discovery/internal/candidates"
	"github.com/outreachkit/email-discovery/internal/verify"
)

// tested pairs a candidate with its verification verdict.
type tested struct {
	cand        candidates.Candidate
	res         verify.Result
	mxValidated bool
}

// statusRank orders verification statuses for selection: valid beats
// catch_all beats unknown; everything else never qualifies.
func statusRank(s verify.Status) int {
	switch s {
	case verify.StatusValid:
		return 3
	case verify.StatusCatchAll:
		return 2
	case verify.StatusUnknown:
		return 1
	}
	return 0
}

// selectWinner picks at most one candidate from everything tested for a
// contact. Tie-break order: status rank, then higher active_in_days among
// valid results, then the more conventional (lower-rank) pattern. Only valid
// and catch_all results can win; unknown alone never resolves a contact.
func selectWinner(list []tested) (tested, bool) {
	best := -1
	for i := range list {
		if best < 0 || better(list[i], list[best]) {
			best = i
		}
	}
	if best < 0 || statusRank(list[best].res.Status) < 2 {
		return tested{}, false
	}
	return list[best], true
}

func better(a, b tested) bool {
	ra, rb := statusRank(a.res.Status), statusRank(b.res.Status)
	if ra != rb {
		return ra > rb
	}
	if a.res.Status == verify.StatusValid && a.res.ActiveInDays != b.res.ActiveInDays {
		return a.res.ActiveInDays > b.res.ActiveInDays
	}
	return a.cand.Rank < b.cand.Rank
}

// baseConfidence blends verification signals into a 0-100 score. The blend is
// deliberately simple: provider status dominates, an unvalidated MX demotes.
func baseConfidence(t tested) int {
	score := 0
	switch t.res.Status {
	case verify.StatusValid:
		score = 95
	case verify.StatusCatchAll:
		score = 60
	case verify.StatusUnknown:
		score = 30
	}
	if !t.mxValidated {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	return score
}
