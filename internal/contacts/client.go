package contacts

import (
	"bytes"
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

// DefaultPageSize respects the datastore's documented page limit.
const DefaultPageSize = 1000

// Client is a minimal HTTP client for the contact datastore endpoints the
// pipeline uses: a paginated missing-email query and a guarded email update.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client

	pageSize int
}

// NewClient constructs a datastore client. baseURL should look like
// "https://crm.example.com/api".
func NewClient(baseURL, token string) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return nil, fmt.Errorf("datastore base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse datastore base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("datastore base URL must include a host (got %q)", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return &Client{
		baseURL:  u,
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 60 * time.Second},
		pageSize: DefaultPageSize,
	}, nil
}

type listResponse struct {
	Contacts []Contact `json:"contacts"`
	HasMore  bool      `json:"has_more"`
}

// ListMissingEmail pages through all contacts with a null email field, ordered
// by the datastore's relevance score, highest first.
func (c *Client) ListMissingEmail(ctx context.Context) ([]Contact, error) {
	var out []Contact
	for offset := 0; ; offset += c.pageSize {
		q := url.Values{}
		q.Set("email", "null")
		q.Set("order_by", "-priority")
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		u := *c.baseURL
		u.Path = u.Path + "/contacts"
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		c.auth(req)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("datastore list: %s", resp.Status)
		}

		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse list response: %w", err)
		}
		out = append(out, page.Contacts...)
		if !page.HasMore || len(page.Contacts) == 0 {
			return out, nil
		}
	}
}

type updateRequest struct {
	Email  string `json:"email"`
	IfNull bool   `json:"if_null"`
}

// UpdateEmailIfNull writes the discovered email under an explicit "email is
// still null" precondition. A precondition failure (the field was filled
// between read and write) is reported as updated=false with a nil error; it is
// a no-op success, not a fault.
func (c *Client) UpdateEmailIfNull(ctx context.Context, id int64, email string) (bool, error) {
	payload, err := json.Marshal(updateRequest{Email: email, IfNull: true})
	if err != nil {
		return false, err
	}

	u := *c.baseURL
	u.Path = fmt.Sprintf("%s/contacts/%d/email", u.Path, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u.String(), bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	c.auth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode/100 == 2:
		return true, nil
	case resp.StatusCode == http.StatusConflict:
		// Email became non-null between read and write; leave it alone.
		return false, nil
	default:
		return false, fmt.Errorf("datastore update contact %d: %s", id, resp.Status)
	}
}

// GetEmail re-reads just the email field for one contact. The orchestrator
// calls this immediately before writing so a stale in-memory null cannot
// overwrite data.
func (c *Client) GetEmail(ctx context.Context, id int64) (string, error) {
	u := *c.baseURL
	u.Path = fmt.Sprintf("%s/contacts/%d", u.Path, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	c.auth(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("datastore get contact %d: %s", id, resp.Status)
	}

	var contact Contact
	if err := json.Unmarshal(body, &contact); err != nil {
		return "", fmt.Errorf("parse contact response: %w", err)
	}
	return strings.TrimSpace(contact.Email), nil
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
