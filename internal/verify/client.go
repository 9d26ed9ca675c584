package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the paid address-verification provider.
//
// Note: intentionally minimal; only the validate and credits endpoints used by
// the pipeline are implemented.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

// NewClient constructs a provider client. baseURL should look like
// "https://api.verifier.example/v2". apiKey is required.
func NewClient(baseURL, apiKey string) (*Client, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	return &Client{
		baseURL: u,
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse provider base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider base URL must include a host (got %q)", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// looseInt tolerates providers that serialize numbers as JSON strings
// (including "" and "-1" for absent values).
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse numeric field %q: %w", s, err)
	}
	*n = looseInt(v)
	return nil
}

type validateResponse struct {
	Address       string   `json:"address"`
	Status        string   `json:"status"`
	SubStatus     string   `json:"sub_status"`
	FreeEmail     bool     `json:"free_email"`
	DomainAgeDays looseInt `json:"domain_age_days"`
	ActiveInDays  looseInt `json:"active_in_days"`
	SMTPProvider  string   `json:"smtp_provider"`
}

// Validate asks the provider for a verdict on a single address. A 429 from the
// provider maps to ErrThrottled; 5xx and transport timeouts are wrapped in
// TransientError so the gateway retries them.
func (c *Client) Validate(ctx context.Context, email string) (Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return Result{}, fmt.Errorf("empty address")
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("email", email)

	body, err := c.get(ctx, "validate", q)
	if err != nil {
		return Result{Address: email}, err
	}

	var parsed validateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{Address: email}, fmt.Errorf("parse validate response: %w", err)
	}

	return Result{
		Address:       email,
		Status:        normalizeStatus(parsed.Status),
		SubStatus:     strings.TrimSpace(parsed.SubStatus),
		FreeEmail:     parsed.FreeEmail,
		DomainAgeDays: int(parsed.DomainAgeDays),
		ActiveInDays:  int(parsed.ActiveInDays),
		SMTPProvider:  strings.TrimSpace(parsed.SMTPProvider),
	}, nil
}

type creditsResponse struct {
	Credits looseInt `json:"credits"`
}

// Credits returns the remaining paid balance on the provider account. A run
// must not start when this reports zero.
func (c *Client) Credits(ctx context.Context) (int, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)

	body, err := c.get(ctx, "getcredits", q)
	if err != nil {
		return 0, err
	}

	var parsed creditsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("parse credits response: %w", err)
	}
	if parsed.Credits < 0 {
		return 0, fmt.Errorf("provider rejected credentials (credits=%d)", parsed.Credits)
	}
	return int(parsed.Credits), nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	u := *c.baseURL
	u.Path = u.Path + "/" + endpoint
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrThrottled
	case resp.StatusCode/100 == 5:
		return nil, &TransientError{Err: fmt.Errorf("provider %s: %s", endpoint, resp.Status)}
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("provider %s: %s", endpoint, resp.Status)
	}
	return body, nil
}

// normalizeStatus maps provider wire statuses ("catch-all") onto the internal
// Status values ("catch_all").
func normalizeStatus(s string) Status {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch Status(s) {
	case StatusValid, StatusInvalid, StatusCatchAll, StatusUnknown, StatusSpamtrap, StatusAbuse, StatusDoNotMail:
		return Status(s)
	}
	return StatusUnknown
}
