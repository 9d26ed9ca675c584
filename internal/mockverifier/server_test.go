package mockverifier

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/outreachkit/email-discovery/internal/verify"
)

func newClient(t *testing.T, srv *Server, key string) *verify.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c, err := verify.NewClient(ts.URL, key)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestServerServesTheRealClient(t *testing.T) {
	srv := New(100)
	srv.RequireAPIKey("k")
	srv.SetValid("jane.smith@acmecorp.com")
	srv.SetCatchAll("bigco.com")
	c := newClient(t, srv, "k")

	res, err := c.Validate(context.Background(), "jane.smith@acmecorp.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != verify.StatusValid || res.ActiveInDays != 30 {
		t.Fatalf("unexpected result: %#v", res)
	}

	res, err = c.Validate(context.Background(), "anyone@bigco.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != verify.StatusCatchAll {
		t.Fatalf("expected catch_all, got %q", res.Status)
	}

	res, err = c.Validate(context.Background(), "nobody@acmecorp.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != verify.StatusInvalid {
		t.Fatalf("expected invalid, got %q", res.Status)
	}

	if got := len(srv.Calls()); got != 3 {
		t.Fatalf("expected 3 recorded calls, got %d", got)
	}
}

func TestServerChargesBillableVerdictsOnly(t *testing.T) {
	srv := New(10)
	srv.SetValid("a@x.com")
	srv.Script("b@x.com", Response{Status: "unknown", SubStatus: "greylisted"})
	c := newClient(t, srv, "any")

	if _, err := c.Validate(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Validate(context.Background(), "b@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Credits() != 9 {
		t.Fatalf("only the valid verdict is billable, credits=%d", srv.Credits())
	}

	credits, err := c.Credits(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credits != 9 {
		t.Fatalf("balance endpoint disagrees: %d", credits)
	}
}

func TestServerFailNextScriptsOutages(t *testing.T) {
	srv := New(10)
	srv.FailNext(429, 502)
	c := newClient(t, srv, "any")

	_, err := c.Validate(context.Background(), "a@x.com")
	if !errors.Is(err, verify.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	var te *verify.TransientError
	if _, err = c.Validate(context.Background(), "a@x.com"); !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if len(srv.Calls()) != 0 {
		t.Fatalf("scripted failures must not count as verdicts: %v", srv.Calls())
	}
}

func TestServerRejectsWrongKey(t *testing.T) {
	srv := New(10)
	srv.RequireAPIKey("right")
	c := newClient(t, srv, "wrong")

	if _, err := c.Validate(context.Background(), "a@x.com"); err == nil {
		t.Fatal("expected an error for a rejected key")
	}
	if _, err := c.Credits(context.Background()); err == nil {
		t.Fatal("expected an error for a rejected key")
	}
}
