package pipeline

import (
	"context"
	"errors"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/checkpoint"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/verify"
)

type verifierFunc func(ctx context.Context, address string) (verify.Result, error)

func (f verifierFunc) Verify(ctx context.Context, address string) (verify.Result, error) {
	return f(ctx, address)
}

type adjudicatorFunc func(ctx context.Context, req adjudicate.Request) (adjudicate.Decision, error)

func (f adjudicatorFunc) Adjudicate(ctx context.Context, req adjudicate.Request) (adjudicate.Decision, error) {
	return f(ctx, req)
}

// fakeStore implements EmailStore over a map with the same still-null contract
// as the real datastore client.
type fakeStore struct {
	mu      sync.Mutex
	emails  map[int64]string
	updates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{emails: make(map[int64]string)}
}

func (s *fakeStore) GetEmail(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emails[id], nil
}

func (s *fakeStore) UpdateEmailIfNull(_ context.Context, id int64, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emails[id] != "" {
		return false, nil
	}
	s.emails[id] = email
	s.updates++
	return true, nil
}

func mxOnly(present ...string) domains.LookupMXFunc {
	set := make(map[string]bool, len(present))
	for _, d := range present {
		set[d] = true
	}
	return func(_ context.Context, domain string) ([]*net.MX, error) {
		if set[domain] {
			return []*net.MX{{Host: "mx." + domain, Pref: 10}}, nil
		}
		return nil, errors.New("no such host")
	}
}

func testConfig(t *testing.T, verifier Verifier, budget int) (Config, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return Config{
		Resolver: domains.NewResolver(domains.WithLookupMX(mxOnly("acmecorp.com"))),
		Verifier: verifier,
		Store:    store,
		Ledger:   verify.NewLedger(budget),
		Logger:   log.New(testWriter{t}, "", 0),
		Options: Options{
			Workers:       2,
			FlushInterval: time.Hour,
		},
	}, store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func janeSmith() contacts.Contact {
	return contacts.Contact{ID: 1, FirstName: "Jane", LastName: "Smith", Organization: "Acme Corp", Priority: 1}
}

func TestRunResolvesOnFirstValidCandidate(t *testing.T) {
	var calls atomic.Int64
	var adjudications atomic.Int64

	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		calls.Add(1)
		if address == "jane.smith@acmecorp.com" {
			return verify.Result{Address: address, Status: verify.StatusValid, ActiveInDays: 90, CostCharged: true}, nil
		}
		return verify.Result{Address: address, Status: verify.StatusInvalid, CostCharged: true}, nil
	})
	cfg, store := testConfig(t, verifier, 100)
	cfg.Adjudicator = adjudicatorFunc(func(context.Context, adjudicate.Request) (adjudicate.Decision, error) {
		adjudications.Add(1)
		return adjudicate.Decision{Accept: true, Confidence: 95}, nil
	})

	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Found != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	out := outcomes[0]
	if !out.Resolved || out.Email != "jane.smith@acmecorp.com" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("a valid verdict must stop the remaining candidates, got %d calls", calls.Load())
	}
	if !out.FastPath || adjudications.Load() != 0 {
		t.Fatalf("full-name match on the employer domain must bypass adjudication: %+v", out)
	}
	if store.emails[1] != "jane.smith@acmecorp.com" {
		t.Fatalf("email not written: %v", store.emails)
	}
}

func TestRunShortCircuitsDomainAfterFirstInvalid(t *testing.T) {
	perDomain := make(map[string]int)
	var mu sync.Mutex

	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		domain := address[strings.LastIndex(address, "@")+1:]
		mu.Lock()
		perDomain[domain]++
		mu.Unlock()
		return verify.Result{Address: address, Status: verify.StatusInvalid, CostCharged: true}, nil
	})
	cfg, _ := testConfig(t, verifier, 100)

	outcomes, _, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Reason != ReasonAllInvalid {
		t.Fatalf("expected all_invalid, got %+v", outcomes[0])
	}
	for domain, n := range perDomain {
		if n != 1 {
			t.Fatalf("an invalid first verdict must halt domain %s, got %d calls", domain, n)
		}
	}
}

func TestRunSkipsContactsWithExistingEmail(t *testing.T) {
	verifier := verifierFunc(func(context.Context, string) (verify.Result, error) {
		t.Error("verifier must not be called for contacts that already have an email")
		return verify.Result{}, nil
	})
	cfg, store := testConfig(t, verifier, 100)

	ct := janeSmith()
	ct.Email = "jane@personal.example"
	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{ct})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcomes[0].Skipped || summary.Skipped != 1 {
		t.Fatalf("unexpected outcome: %+v %+v", outcomes[0], summary)
	}
	if store.updates != 0 {
		t.Fatalf("nothing may be written for skipped contacts, got %d updates", store.updates)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		return verify.Result{Address: address, Status: verify.StatusValid, CostCharged: true}, nil
	})
	cfg, store := testConfig(t, verifier, 100)
	cfg.Options.DryRun = true

	outcomes, _, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcomes[0].Resolved || outcomes[0].Wrote {
		t.Fatalf("dry run must resolve without writing: %+v", outcomes[0])
	}
	if store.updates != 0 {
		t.Fatalf("dry run issued %d writes", store.updates)
	}
}

func TestRunResumeSkipsTerminalContacts(t *testing.T) {
	var verified sync.Map
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		verified.Store(address, true)
		return verify.Result{Address: address, Status: verify.StatusValid, CostCharged: true}, nil
	})
	cfg, _ := testConfig(t, verifier, 100)

	resume := checkpoint.Empty("run-resume")
	resume.Resolved[1] = "jane.smith@acmecorp.com"
	resume.Resolved[2] = "bob.lee@acmecorp.com"
	resume.Unresolved[3] = string(ReasonAllInvalid)
	cfg.Resume = resume

	list := []contacts.Contact{
		janeSmith(),
		{ID: 2, FirstName: "Bob", LastName: "Lee", Organization: "Acme Corp"},
		{ID: 3, FirstName: "Eve", LastName: "Stone", Organization: "Acme Corp"},
		{ID: 4, FirstName: "Ana", LastName: "Reyes", Organization: "Acme Corp"},
	}
	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 1 || len(outcomes) != 1 || outcomes[0].Contact.ID != 4 {
		t.Fatalf("only contact 4 should be processed: %+v", summary)
	}
	verified.Range(func(key, _ any) bool {
		if key.(string) != "ana.reyes@acmecorp.com" {
			t.Errorf("verified %v for a terminal contact", key)
		}
		return true
	})
}

func TestRunBudgetExhaustion(t *testing.T) {
	ledger := verify.NewLedger(3)
	var providerCalls atomic.Int64
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		if !ledger.TrySpend() {
			return verify.Result{}, verify.ErrBudgetExhausted
		}
		providerCalls.Add(1)
		return verify.Result{Address: address, Status: verify.StatusInvalid, CostCharged: true}, nil
	})
	cfg, _ := testConfig(t, verifier, 3)
	cfg.Ledger = ledger

	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if providerCalls.Load() != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", providerCalls.Load())
	}
	if outcomes[0].Reason != ReasonBudgetExhausted || summary.BudgetExhausted != 1 {
		t.Fatalf("expected budget_exhausted, got %+v", outcomes[0])
	}
}

func TestRunLostWriteRaceIsNoOp(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		return verify.Result{Address: address, Status: verify.StatusValid, CostCharged: true}, nil
	})
	cfg, store := testConfig(t, verifier, 100)
	// Another writer fills the field between the list read and our write.
	store.emails[1] = "someone.else@elsewhere.example"

	outcomes, _, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes[0]
	if out.Resolved || !out.Skipped || out.Wrote {
		t.Fatalf("a lost race must be a no-op: %+v", out)
	}
	if store.emails[1] != "someone.else@elsewhere.example" {
		t.Fatalf("existing value must never be overwritten: %v", store.emails)
	}
}

func TestRunAdjudicatorRejectionEndsLowConfidence(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		return verify.Result{Address: address, Status: verify.StatusCatchAll, CostCharged: true}, nil
	})
	cfg, store := testConfig(t, verifier, 100)
	cfg.Adjudicator = adjudicatorFunc(func(context.Context, adjudicate.Request) (adjudicate.Decision, error) {
		return adjudicate.Decision{Accept: false, Confidence: 20, Reason: "generic pattern on a common name"}, nil
	})

	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Reason != ReasonLowConfidence || summary.LowConfidence != 1 {
		t.Fatalf("expected low_confidence, got %+v", outcomes[0])
	}
	if store.updates != 0 {
		t.Fatal("rejected candidates must not be written")
	}
}

func TestRunAdjudicatorFailureFallsBackOnValid(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		// Only the jsmith pattern exists; the leading full-name patterns are
		// unknown so the winner cannot take the fast path.
		if address == "jsmith@acmecorp.com" {
			return verify.Result{Address: address, Status: verify.StatusValid, CostCharged: true}, nil
		}
		return verify.Result{Address: address, Status: verify.StatusUnknown}, nil
	})
	cfg, store := testConfig(t, verifier, 100)
	cfg.Adjudicator = adjudicatorFunc(func(context.Context, adjudicate.Request) (adjudicate.Decision, error) {
		return adjudicate.Decision{}, errors.New("model overloaded")
	})

	outcomes, _, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{janeSmith()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := outcomes[0]
	if !out.Resolved || out.Email != "jsmith@acmecorp.com" {
		t.Fatalf("a valid result must survive an adjudicator outage: %+v", out)
	}
	if !out.AdjudicationFellBack {
		t.Fatalf("fallback not reported: %+v", out)
	}
	if out.Confidence != 85 {
		t.Fatalf("fallback confidence should be demoted to 85, got %d", out.Confidence)
	}
	if store.emails[1] != "jsmith@acmecorp.com" {
		t.Fatalf("email not written: %v", store.emails)
	}
}

func TestRunNoDomainTerminatesWithoutProviderCalls(t *testing.T) {
	verifier := verifierFunc(func(context.Context, string) (verify.Result, error) {
		t.Error("no provider call may be issued without a domain")
		return verify.Result{}, nil
	})
	cfg, _ := testConfig(t, verifier, 100)

	ct := janeSmith()
	ct.Organization = ""
	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), []contacts.Contact{ct})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Reason != ReasonNoDomain || summary.NoDomain != 1 {
		t.Fatalf("expected no_domain, got %+v", outcomes[0])
	}
}

func TestRunWritesCheckpoint(t *testing.T) {
	ledger := verify.NewLedger(100)
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		if !ledger.TrySpend() {
			return verify.Result{}, verify.ErrBudgetExhausted
		}
		if address == "jane.smith@acmecorp.com" {
			return verify.Result{Address: address, Status: verify.StatusValid, CostCharged: true}, nil
		}
		return verify.Result{Address: address, Status: verify.StatusInvalid, CostCharged: true}, nil
	})
	cfg, _ := testConfig(t, verifier, 100)
	cfg.Ledger = ledger
	ckptPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg.Checkpoints = checkpoint.NewStore(ckptPath)

	list := []contacts.Contact{
		janeSmith(),
		{ID: 2, FirstName: "Bob", LastName: "Lee", Organization: "Acme Corp"},
	}
	_, _, err := NewRunner(cfg).Run(context.Background(), list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := checkpoint.NewStore(ckptPath).Load()
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if snap.RunID == "" {
		t.Fatal("checkpoint must carry the run id")
	}
	if snap.Resolved[1] != "jane.smith@acmecorp.com" {
		t.Fatalf("contact 1 missing from resolved: %+v", snap)
	}
	if !snap.Terminal(2) {
		t.Fatalf("contact 2 must be terminal: %+v", snap)
	}
	if len(snap.Pending) != 0 {
		t.Fatalf("completed run must leave nothing pending: %v", snap.Pending)
	}
	if snap.CreditsConsumed == 0 {
		t.Fatal("checkpoint must track consumed credits")
	}
}

func TestRunHonorsLimitAndPriorityOrder(t *testing.T) {
	verifier := verifierFunc(func(_ context.Context, address string) (verify.Result, error) {
		return verify.Result{Address: address, Status: verify.StatusInvalid, CostCharged: true}, nil
	})
	cfg, _ := testConfig(t, verifier, 100)
	cfg.Options.Workers = 1
	cfg.Options.Limit = 2

	list := []contacts.Contact{
		{ID: 1, FirstName: "Low", LastName: "Priority", Organization: "Acme Corp", Priority: 0.1},
		{ID: 2, FirstName: "High", LastName: "Priority", Organization: "Acme Corp", Priority: 0.9},
		{ID: 3, FirstName: "Mid", LastName: "Priority", Organization: "Acme Corp", Priority: 0.5},
	}
	outcomes, summary, err := NewRunner(cfg).Run(context.Background(), list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Processed != 2 {
		t.Fatalf("limit must cap the run: %+v", summary)
	}
	seen := map[int64]bool{}
	for _, out := range outcomes {
		seen[out.Contact.ID] = true
	}
	if !seen[2] || !seen[3] || seen[1] {
		t.Fatalf("the two highest-priority contacts must be chosen: %v", seen)
	}
}
