package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/outreachkit/email-discovery/internal/util"
)

// Provider issues one paid verification call for one address.
type Provider interface {
	Validate(ctx context.Context, email string) (Result, error)
}

// Options tunes the gateway. Zero values pick conservative defaults.
type Options struct {
	// MaxInFlight caps concurrent provider calls, well under the provider's
	// documented burst ceiling.
	MaxInFlight int
	// RateLimitRPS is a global request rate shared by all callers. <=0 disables.
	RateLimitRPS float64
	// Cooldown is how long all callers pause after a provider rate-limit
	// response.
	Cooldown time.Duration
	// MaxAttempts bounds retries of transient results per address.
	MaxAttempts int
	// RetryBase is the first retry delay; subsequent delays double.
	RetryBase time.Duration
	// RequestTimeout applies to each individual provider round trip.
	RequestTimeout time.Duration
	// Logger receives non-transient provider failures. Defaults to stdout.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 60 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 1 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 20 * time.Second
	}
	return o
}

// Gateway is the budget-metered front door to the verification provider.
//
// Every paid call flows through here: the gateway spends a ledger credit before
// contacting the provider, refunds it when the verdict comes back free
// ("unknown"), retries transient sub-statuses with exponential backoff, and
// refuses locally once the budget is gone. Callers are expected to submit
// candidates for one contact strictly in priority order; early-stop and the
// per-domain short-circuit live in the driver, not here.
type Gateway struct {
	provider Provider
	ledger   *Ledger
	opts     Options

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  *log.Logger

	mu          sync.Mutex
	pausedUntil time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway wires a gateway around the provider and the shared ledger.
func NewGateway(provider Provider, ledger *Ledger, opts Options) *Gateway {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	g := &Gateway{
		provider: provider,
		ledger:   ledger,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	if opts.RateLimitRPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return g
}

// Ledger exposes the shared credit ledger for snapshotting.
func (g *Gateway) Ledger() *Ledger {
	return g.ledger
}

// Verify resolves one candidate address to a final Result.
//
// The ledger is decremented before the provider is contacted; an empty ledger
// returns ErrBudgetExhausted without any network call. Transient failures are
// retried up to MaxAttempts and then downgraded to a free "unknown" result,
// never surfaced as a hard error. The only error returns besides budget
// exhaustion are context cancellations.
func (g *Gateway) Verify(ctx context.Context, address string) (Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer g.sem.Release(1)

	if !g.ledger.TrySpend() {
		return Result{}, ErrBudgetExhausted
	}

	res, err := g.verifyWithRetry(ctx, address)
	if err != nil {
		// No verdict was reached (cancellation); the credit was not used.
		g.ledger.Refund()
		return Result{}, err
	}

	if res.Billable() {
		res.CostCharged = true
	} else {
		res.CostCharged = false
		g.ledger.Refund()
	}
	return res, nil
}

// outcome classifies one provider attempt for the retry loop.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetryable
	outcomeFatal
)

func (g *Gateway) verifyWithRetry(ctx context.Context, address string) (Result, error) {
	var lastSub string
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		if err := g.waitCooldown(ctx); err != nil {
			return Result{}, err
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		res, err := g.provider.Validate(reqCtx, address)
		cancel()

		switch g.classify(res, err) {
		case outcomeOK:
			return res, nil
		case outcomeFatal:
			// A non-retryable failure (auth rejection, 4xx) still downgrades
			// to a free unknown, but loudly: if every call fails this way the
			// operator needs to see it, not a pile of all_invalid contacts.
			g.logf("provider call failed for %s: %v", address, err)
			return unknownResult(address, "provider_error"), nil
		case outcomeRetryable:
			if s := res.SubStatus; s != "" {
				lastSub = s
			}
		}

		if attempt == g.opts.MaxAttempts-1 {
			break
		}
		delay := g.opts.RetryBase << uint(attempt)
		if err := g.sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}

	if lastSub == "" {
		lastSub = "retries_exhausted"
	}
	return unknownResult(address, lastSub), nil
}

func (g *Gateway) classify(res Result, err error) outcome {
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			g.pause()
			return outcomeRetryable
		}
		if isTransient(err) {
			return outcomeRetryable
		}
		return outcomeFatal
	}
	if transientSubStatus(res.SubStatus) {
		return outcomeRetryable
	}
	return outcomeOK
}

func (g *Gateway) pause() {
	g.mu.Lock()
	until := g.now().Add(g.opts.Cooldown)
	if until.After(g.pausedUntil) {
		g.pausedUntil = until
	}
	g.mu.Unlock()
}

func (g *Gateway) waitCooldown(ctx context.Context) error {
	g.mu.Lock()
	until := g.pausedUntil
	g.mu.Unlock()

	d := until.Sub(g.now())
	if d <= 0 {
		return nil
	}
	return g.sleep(ctx, d)
}

func (g *Gateway) logf(format string, args ...any) {
	g.logger.Print(util.RedactSecrets(fmt.Sprintf(format, args...)))
}

func unknownResult(address, sub string) Result {
	return Result{
		Address:   address,
		Status:    StatusUnknown,
		SubStatus: sub,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
