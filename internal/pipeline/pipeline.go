package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/candidates"
	"github.com/outreachkit/email-discovery/internal/checkpoint"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/verify"
)

// Reason explains why a contact ended unresolved.
type Reason string

const (
	ReasonNoDomain        Reason = "no_domain"
	ReasonAllInvalid      Reason = "all_invalid"
	ReasonLowConfidence   Reason = "low_confidence"
	ReasonBudgetExhausted Reason = "budget_exhausted"
)

// Verifier is the budget-metered verification gateway as the driver sees it.
type Verifier interface {
	Verify(ctx context.Context, address string) (verify.Result, error)
}

// EmailStore is the write side of the contact datastore. GetEmail re-reads the
// current value so the "still null" precondition holds at write time, not just
// at read time.
type EmailStore interface {
	GetEmail(ctx context.Context, id int64) (string, error)
	UpdateEmailIfNull(ctx context.Context, id int64, email string) (bool, error)
}

// Outcome is the terminal result for one contact.
type Outcome struct {
	Contact contacts.Contact

	// Skipped means the contact already carried an email; nothing was tested
	// and nothing was written.
	Skipped bool

	Resolved   bool
	Email      string
	Confidence int
	Reason     Reason

	FastPath             bool
	Adjudicated          bool
	AdjudicationFellBack bool
	CandidatesTested     int
	Wrote                bool
}

// Summary is the run report: every processed contact lands in exactly one
// bucket.
type Summary struct {
	Found           int
	Skipped         int
	NoDomain        int
	AllInvalid      int
	LowConfidence   int
	BudgetExhausted int

	Processed       int
	CreditsConsumed int
	Elapsed         time.Duration
	Interrupted     bool
}

// Options tunes the orchestrator.
type Options struct {
	// Workers is the number of contact-processing slots. Candidates within a
	// contact are never parallelized; the early-stop and domain short-circuit
	// optimizations depend on strict in-order submission.
	Workers int
	// Limit caps how many contacts this run processes. <=0 means all.
	Limit int
	// MinConfidence is the floor for final acceptance.
	MinConfidence int
	// FastPathThreshold is the verification confidence needed to bypass
	// adjudication.
	FastPathThreshold int
	// DryRun disables all datastore writes.
	DryRun bool
	// ProgressEvery emits a progress line after this many contacts.
	ProgressEvery int
	// FlushInterval is the periodic checkpoint cadence.
	FlushInterval time.Duration

	Candidates candidates.Options
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 70
	}
	if o.FastPathThreshold <= 0 {
		o.FastPathThreshold = 90
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 25
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 30 * time.Second
	}
	return o
}

// Config wires a Runner.
type Config struct {
	Resolver    *domains.Resolver
	Verifier    Verifier
	Adjudicator adjudicate.Adjudicator // nil disables adjudication entirely
	Store       EmailStore
	Ledger      *verify.Ledger
	Checkpoints *checkpoint.Store // nil disables checkpointing
	Resume      checkpoint.Snapshot
	Logger      *log.Logger
	Options     Options
}
