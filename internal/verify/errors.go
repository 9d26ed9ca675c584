package verify

import (
	"context"
	"errors"
	"net"
)

// ErrBudgetExhausted is returned by the gateway once the ledger is empty. The
// refusal is local: no request reaches the provider after this point.
var ErrBudgetExhausted = errors.New("verification budget exhausted")

// ErrThrottled is returned by the client when the provider reports a rate
// limit. The gateway reacts by pausing all callers for a cooldown window.
var ErrThrottled = errors.New("provider rate limited")

// TransientError marks a provider failure as retryable by the gateway.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
