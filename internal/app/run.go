// Package app glues the pipeline together for the two run modes: local CSV
// in/out, and the contact datastore.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/checkpoint"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/pipeline"
	"github.com/outreachkit/email-discovery/internal/verify"
)

// CreditSource answers the pre-run remaining-credits query.
type CreditSource interface {
	Credits(ctx context.Context) (int, error)
}

// Deps carries everything a run needs, fully constructed by the CLI.
type Deps struct {
	Logger      *log.Logger
	Resolver    *domains.Resolver
	Verifier    pipeline.Verifier
	Ledger      *verify.Ledger
	Credits     CreditSource // optional; when set, a zero balance refuses to start
	Adjudicator adjudicate.Adjudicator
	Checkpoints *checkpoint.Store
	Resume      checkpoint.Snapshot
	Options     pipeline.Options
}

// RunLocal reads contacts from a local CSV, runs the full pipeline with an
// in-memory write target, and writes result rows to a local CSV.
func RunLocal(ctx context.Context, inputPath, outputPath string, deps Deps) error {
	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()

	list, err := contacts.ReadContactsCSV(inF)
	if err != nil {
		return err
	}

	if err := checkCredits(ctx, deps); err != nil {
		return err
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Resolver:    deps.Resolver,
		Verifier:    deps.Verifier,
		Adjudicator: deps.Adjudicator,
		Store:       newMemStore(list),
		Ledger:      deps.Ledger,
		Checkpoints: deps.Checkpoints,
		Resume:      deps.Resume,
		Logger:      deps.Logger,
		Options:     deps.Options,
	})

	outcomes, summary, err := runner.Run(ctx, list)
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()
	if err := contacts.WriteResultsCSV(outF, resultRows(outcomes)); err != nil {
		return err
	}
	if err := outF.Close(); err != nil {
		return err
	}

	logSummary(deps.Logger, summary)
	return nil
}

// RunStore pulls the missing-email queue from the contact datastore and
// writes discovered addresses back under the still-null precondition.
func RunStore(ctx context.Context, store *contacts.Client, deps Deps) error {
	if err := checkCredits(ctx, deps); err != nil {
		return err
	}

	list, err := store.ListMissingEmail(ctx)
	if err != nil {
		return fmt.Errorf("list contacts: %w", err)
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Resolver:    deps.Resolver,
		Verifier:    deps.Verifier,
		Adjudicator: deps.Adjudicator,
		Store:       store,
		Ledger:      deps.Ledger,
		Checkpoints: deps.Checkpoints,
		Resume:      deps.Resume,
		Logger:      deps.Logger,
		Options:     deps.Options,
	})

	_, summary, err := runner.Run(ctx, list)
	if err != nil {
		return err
	}
	logSummary(deps.Logger, summary)
	return nil
}

func checkCredits(ctx context.Context, deps Deps) error {
	if deps.Credits == nil {
		return nil
	}
	balance, err := deps.Credits.Credits(ctx)
	if err != nil {
		return fmt.Errorf("credit check: %w", err)
	}
	if balance <= 0 {
		return fmt.Errorf("provider reports zero credits; refusing to start")
	}
	if balance < deps.Ledger.Remaining() {
		deps.Logger.Printf("warning: provider balance %d is below run budget %d", balance, deps.Ledger.Remaining())
	}
	return nil
}

func logSummary(logger *log.Logger, s pipeline.Summary) {
	state := "complete"
	if s.Interrupted {
		state = "interrupted"
	}
	logger.Printf(
		"run %s: processed=%d found=%d skipped=%d no_domain=%d all_invalid=%d low_confidence=%d budget_exhausted=%d credits=%d elapsed=%s",
		state, s.Processed, s.Found, s.Skipped, s.NoDomain, s.AllInvalid,
		s.LowConfidence, s.BudgetExhausted, s.CreditsConsumed, s.Elapsed.Round(time.Millisecond),
	)
}

func resultRows(outcomes []pipeline.Outcome) []contacts.ResultRow {
	rows := make([]contacts.ResultRow, 0, len(outcomes))
	for _, out := range outcomes {
		status := "unresolved"
		switch {
		case out.Skipped:
			status = "skipped"
		case out.Resolved:
			status = "found"
		}
		rows = append(rows, contacts.ResultRow{
			ContactID:    out.Contact.ID,
			FirstName:    out.Contact.FirstName,
			LastName:     out.Contact.LastName,
			Organization: out.Contact.Organization,
			Email:        out.Email,
			Status:       status,
			Reason:       string(out.Reason),
			Confidence:   out.Confidence,
		})
	}
	return rows
}

// memStore is the write target for local runs: the same still-null contract
// as the datastore, over an in-memory map seeded from the input CSV.
type memStore struct {
	mu     sync.Mutex
	emails map[int64]string
}

func newMemStore(list []contacts.Contact) *memStore {
	m := &memStore{emails: make(map[int64]string, len(list))}
	for _, ct := range list {
		if e := strings.TrimSpace(ct.Email); e != "" {
			m.emails[ct.ID] = e
		}
	}
	return m
}

func (m *memStore) GetEmail(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emails[id], nil
}

func (m *memStore) UpdateEmailIfNull(_ context.Context, id int64, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emails[id] != "" {
		return false, nil
	}
	m.emails[id] = email
	return true, nil
}
