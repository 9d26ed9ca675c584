package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/checkpoint"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/util"
	"github.com/outreachkit/email-discovery/internal/verify"
)

// Runner drives the bounded contact worker pool over the unresolved-contact
// queue. Each worker runs the full per-contact chain sequentially for its
// current contact; different contacts run fully concurrently. The only state
// shared across workers is the credit ledger and the checkpoint sets.
type Runner struct {
	resolver    *domains.Resolver
	verifier    Verifier
	adjudicator adjudicate.Adjudicator
	store       EmailStore
	ledger      *verify.Ledger
	ckpt        *checkpoint.Store
	opts        Options

	runID  string
	logger *log.Logger

	mu          sync.Mutex
	snap        checkpoint.Snapshot
	pending     map[int64]bool
	counts      Summary
	baseCredits int
}

// NewRunner wires a runner. cfg.Resume carries the snapshot of a previous
// interrupted run; contacts it marks terminal are skipped without any provider
// call and its consumed credits are not double-counted in reports.
func NewRunner(cfg Config) *Runner {
	opts := cfg.Options.withDefaults()

	runID := cfg.Resume.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	snap := cfg.Resume
	if snap.Resolved == nil {
		snap = checkpoint.Empty(runID)
	}
	snap.RunID = runID

	return &Runner{
		resolver:    cfg.Resolver,
		verifier:    cfg.Verifier,
		adjudicator: cfg.Adjudicator,
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		ckpt:        cfg.Checkpoints,
		opts:        opts,
		runID:       runID,
		logger:      logger,
		snap:        snap,
		pending:     make(map[int64]bool),
		baseCredits: snap.CreditsConsumed,
	}
}

func (r *Runner) logf(format string, args ...any) {
	msg := util.RedactSecrets(fmt.Sprintf(format, args...))
	r.logger.Printf("run=%s %s", r.runID, msg)
}

// Run processes the contact list to completion or interruption. On
// cancellation it stops dispatching new contacts, lets in-flight workers
// finish their current external call, flushes the checkpoint, and returns the
// terminal outcomes reached so far with the summary; it never returns a
// partial state silently.
func (r *Runner) Run(ctx context.Context, list []contacts.Contact) ([]Outcome, Summary, error) {
	start := time.Now()

	work := r.planWork(list)
	r.logf("run start: contacts=%d workers=%d budget=%d dryRun=%t",
		len(work), r.opts.Workers, r.ledger.Remaining(), r.opts.DryRun)
	r.flush()

	jobs := make(chan contacts.Contact)
	results := make(chan Outcome, r.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ct := range jobs {
				out, err := r.processContact(ctx, ct)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// Transient infrastructure failure: the contact stays
					// pending and a resumed run retries it.
					r.logf("contact %d left pending: %v", ct.ID, err)
					continue
				}
				results <- out
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ct := range work {
			select {
			case jobs <- ct:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	stopFlush := make(chan struct{})
	var flushWG sync.WaitGroup
	flushWG.Add(1)
	go func() {
		defer flushWG.Done()
		ticker := time.NewTicker(r.opts.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.flush()
			case <-stopFlush:
				return
			}
		}
	}()

	var outcomes []Outcome
	for out := range results {
		r.record(out)
		outcomes = append(outcomes, out)
		if len(outcomes)%r.opts.ProgressEvery == 0 {
			r.progress(len(outcomes), len(work))
		}
	}

	close(stopFlush)
	flushWG.Wait()
	r.flush()

	summary := r.summarize(start, ctx.Err() != nil)
	return outcomes, summary, nil
}

// planWork filters already-terminal contacts, orders by priority, applies the
// limit, and seeds the pending set.
func (r *Runner) planWork(list []contacts.Contact) []contacts.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()

	var work []contacts.Contact
	for _, ct := range list {
		if r.snap.Terminal(ct.ID) {
			continue
		}
		work = append(work, ct)
	}
	sort.SliceStable(work, func(i, j int) bool { return work[i].Priority > work[j].Priority })
	if r.opts.Limit > 0 && len(work) > r.opts.Limit {
		work = work[:r.opts.Limit]
	}

	for _, ct := range work {
		r.pending[ct.ID] = true
	}
	return work
}

// record moves one contact from pending into its terminal bucket.
func (r *Runner) record(out Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := out.Contact.ID
	delete(r.pending, id)
	r.counts.Processed++

	switch {
	case out.Skipped:
		r.counts.Skipped++
		r.snap.Resolved[id] = out.Email
	case out.Resolved:
		r.counts.Found++
		r.snap.Resolved[id] = out.Email
	default:
		r.snap.Unresolved[id] = string(out.Reason)
		switch out.Reason {
		case ReasonNoDomain:
			r.counts.NoDomain++
		case ReasonAllInvalid:
			r.counts.AllInvalid++
		case ReasonLowConfidence:
			r.counts.LowConfidence++
		case ReasonBudgetExhausted:
			r.counts.BudgetExhausted++
		}
	}
}

// flush writes the current snapshot, best effort.
func (r *Runner) flush() {
	if r.ckpt == nil {
		return
	}
	r.mu.Lock()
	snap := checkpoint.Snapshot{
		SchemaVersion: r.snap.SchemaVersion,
		RunID:         r.snap.RunID,
		Resolved:      make(map[int64]string, len(r.snap.Resolved)),
		Unresolved:    make(map[int64]string, len(r.snap.Unresolved)),
		Pending:       make([]int64, 0, len(r.pending)),
	}
	for id, email := range r.snap.Resolved {
		snap.Resolved[id] = email
	}
	for id, reason := range r.snap.Unresolved {
		snap.Unresolved[id] = reason
	}
	for id := range r.pending {
		snap.Pending = append(snap.Pending, id)
	}
	snap.CreditsConsumed = r.baseCredits + r.ledger.Consumed()
	r.mu.Unlock()

	if err := r.ckpt.Write(snap); err != nil {
		r.logf("checkpoint flush failed: %v", err)
	}
}

func (r *Runner) progress(done, total int) {
	r.mu.Lock()
	c := r.counts
	r.mu.Unlock()
	r.logf("progress: %d/%d found=%d skipped=%d no_domain=%d credits=%d",
		done, total, c.Found, c.Skipped, c.NoDomain, r.ledger.Consumed())
}

func (r *Runner) summarize(start time.Time, interrupted bool) Summary {
	r.mu.Lock()
	s := r.counts
	r.mu.Unlock()
	s.CreditsConsumed = r.ledger.Consumed()
	s.Elapsed = time.Since(start)
	s.Interrupted = interrupted
	return s
}
