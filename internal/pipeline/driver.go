package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/candidates"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/verify"
)

const adjudicationTimeout = 30 * time.Second

// processContact drives the full chain for one contact: resolve domains,
// generate candidates, verify strictly in rank order with early-stop and the
// per-domain short-circuit, adjudicate (or bypass), select, write.
//
// Candidates are never parallelized within a contact. External calls run on a
// context detached from run cancellation so an interrupt lets the in-flight
// call finish cleanly; the run context is honored at stage boundaries only.
// A non-nil error means the contact reached no terminal state and stays
// pending.
func (r *Runner) processContact(runCtx context.Context, ct contacts.Contact) (Outcome, error) {
	out := Outcome{Contact: ct}

	if strings.TrimSpace(ct.Email) != "" {
		out.Skipped = true
		out.Email = strings.TrimSpace(ct.Email)
		return out, nil
	}

	doms, err := r.resolver.Resolve(runCtx, ct.Organization)
	if err != nil {
		if errors.Is(err, domains.ErrNoDomain) {
			out.Reason = ReasonNoDomain
			return out, nil
		}
		return Outcome{}, err
	}

	cands := candidates.Generate(ct.FirstName, ct.LastName, doms, r.opts.Candidates)
	if len(cands) == 0 {
		out.Reason = ReasonNoDomain
		return out, nil
	}

	mxValidated := make(map[string]bool, len(doms))
	for _, d := range doms {
		mxValidated[d.Name] = d.MXValidated
	}

	testedList, budgetHit, err := r.verifyCandidates(runCtx, cands, mxValidated)
	if err != nil {
		return Outcome{}, err
	}
	out.CandidatesTested = len(testedList)

	winner, ok := selectWinner(testedList)
	if !ok {
		switch {
		case budgetHit:
			out.Reason = ReasonBudgetExhausted
		default:
			out.Reason = ReasonAllInvalid
		}
		return out, nil
	}

	accepted, confidence, err := r.adjudicateWinner(runCtx, ct, doms, testedList, winner, &out)
	if err != nil {
		return Outcome{}, err
	}
	if !accepted {
		out.Reason = ReasonLowConfidence
		return out, nil
	}

	out.Resolved = true
	out.Email = winner.cand.Address
	out.Confidence = confidence

	if r.opts.DryRun {
		return out, nil
	}
	wrote, err := r.writeEmail(runCtx, ct.ID, winner.cand.Address)
	if err != nil {
		return Outcome{}, err
	}
	out.Wrote = wrote
	if !wrote {
		// The field was filled behind our back; the existing value wins.
		out.Resolved = false
		out.Skipped = true
		out.Email = ""
	}
	return out, nil
}

// verifyCandidates submits candidates strictly in rank order. A valid result
// halts the remainder (early-stop); an invalid verdict on a domain's first
// tested candidate halts only that domain.
func (r *Runner) verifyCandidates(runCtx context.Context, cands []candidates.Candidate, mxValidated map[string]bool) ([]tested, bool, error) {
	var testedList []tested
	shortCircuited := make(map[string]bool)
	seenDomain := make(map[string]bool)

	for _, cand := range cands {
		if err := runCtx.Err(); err != nil {
			return nil, false, err
		}
		if shortCircuited[cand.Domain] {
			continue
		}

		callCtx := context.WithoutCancel(runCtx)
		res, err := r.verifier.Verify(callCtx, cand.Address)
		if err != nil {
			if errors.Is(err, verify.ErrBudgetExhausted) {
				return testedList, true, nil
			}
			return nil, false, err
		}

		firstOnDomain := !seenDomain[cand.Domain]
		seenDomain[cand.Domain] = true
		testedList = append(testedList, tested{
			cand:        cand,
			res:         res,
			mxValidated: mxValidated[cand.Domain],
		})

		if res.Status == verify.StatusValid {
			return testedList, false, nil
		}
		if res.Status == verify.StatusInvalid && firstOnDomain {
			shortCircuited[cand.Domain] = true
		}
	}
	return testedList, false, nil
}

// adjudicateWinner applies the fast-path bypass or the full adjudication step
// and reports whether the winner is accepted, along with its confidence.
func (r *Runner) adjudicateWinner(runCtx context.Context, ct contacts.Contact, doms []domains.Domain, testedList []tested, winner tested, out *Outcome) (bool, int, error) {
	base := baseConfidence(winner)

	employerDomains := make([]string, 0, len(doms))
	for _, d := range doms {
		employerDomains = append(employerDomains, d.Name)
	}

	if adjudicate.FastPath(ct.FirstName, ct.LastName, winner.cand.Address, employerDomains, base, r.opts.FastPathThreshold) {
		out.FastPath = true
		return true, base, nil
	}

	if r.adjudicator == nil {
		return r.verificationOnly(winner, base), demoted(base), nil
	}

	if err := runCtx.Err(); err != nil {
		return false, 0, err
	}

	otherVerified := 0
	for _, t := range testedList {
		if t.cand.Address != winner.cand.Address && statusRank(t.res.Status) >= 2 {
			otherVerified++
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), adjudicationTimeout)
	decision, err := r.adjudicator.Adjudicate(callCtx, adjudicate.Request{
		FirstName:             ct.FirstName,
		LastName:              ct.LastName,
		Organization:          ct.Organization,
		Title:                 ct.Title,
		ProfileURL:            ct.ProfileURL,
		Candidate:             winner.cand.Address,
		Verification:          winner.res,
		OtherVerifiedPatterns: otherVerified,
	})
	cancel()
	if err != nil {
		// Adjudicator down or malformed output: fall back to
		// verification-only acceptance at demoted confidence rather than
		// discarding the contact.
		r.logf("adjudicator failed for contact %d, falling back: %v", ct.ID, err)
		out.AdjudicationFellBack = true
		return r.verificationOnly(winner, base), demoted(base), nil
	}

	out.Adjudicated = true
	if !decision.Accept {
		return false, decision.Confidence, nil
	}
	if decision.Confidence < r.opts.MinConfidence {
		return false, decision.Confidence, nil
	}
	return true, decision.Confidence, nil
}

// verificationOnly is the acceptance rule when no adjudication verdict is
// available: a plain valid result clearing the confidence floor passes,
// anything weaker does not.
func (r *Runner) verificationOnly(winner tested, base int) bool {
	return winner.res.Status == verify.StatusValid && demoted(base) >= r.opts.MinConfidence
}

func demoted(base int) int {
	score := base - 10
	if score < 0 {
		score = 0
	}
	return score
}

// writeEmail re-validates that the email field is still null immediately
// before writing. A lost race is a no-op success.
func (r *Runner) writeEmail(runCtx context.Context, id int64, email string) (bool, error) {
	callCtx := context.WithoutCancel(runCtx)

	current, err := r.store.GetEmail(callCtx, id)
	if err != nil {
		return false, err
	}
	if current != "" {
		return false, nil
	}
	return r.store.UpdateEmailIfNull(callCtx, id, email)
}
