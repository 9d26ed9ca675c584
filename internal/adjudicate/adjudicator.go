package adjudicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/outreachkit/email-discovery/internal/verify"
	"google.golang.org/genai"
)

// Request carries the contextual signals the adjudicator weighs for one
// verified candidate.
type Request struct {
	FirstName    string
	LastName     string
	Organization string
	Title        string
	ProfileURL   string

	Candidate    string
	Verification verify.Result

	// OtherVerifiedPatterns counts additional patterns for the same contact
	// that also verified, a corroborating signal for common names.
	OtherVerifiedPatterns int
}

// Decision is the adjudicator's verdict.
type Decision struct {
	Accept     bool
	Confidence int // 0-100
	Reason     string
}

// Adjudicator accepts or rejects a verified candidate using contextual
// signals. Implementations have no deterministic mode; repeated calls with the
// same input may disagree.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req Request) (Decision, error)
}

// TransientError marks a provider failure as retryable.
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

// Config configures the Gemini-backed adjudicator.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini adjudicates via a structured-output Gemini call.
type Gemini struct {
	client *genai.Client
	model  string
}

// New constructs the Gemini adjudicator.
func New(ctx context.Context, cfg Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

type responseSchema struct {
	Accept     bool   `json:"accept"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"accept":     {Type: genai.TypeBoolean},
		"confidence": {Type: genai.TypeInteger},
		"reason":     {Type: genai.TypeString},
	},
	Required: []string{"accept", "confidence", "reason"},
}

// Adjudicate asks the model whether the verified candidate plausibly belongs
// to this contact today.
func (g *Gemini) Adjudicate(ctx context.Context, req Request) (Decision, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return Decision{}, classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return Decision{}, fmt.Errorf("adjudicator: parse structured json: %w", err)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 100 {
		parsed.Confidence = 100
	}
	return Decision{
		Accept:     parsed.Accept,
		Confidence: parsed.Confidence,
		Reason:     strings.TrimSpace(parsed.Reason),
	}, nil
}

func buildPrompt(req Request) string {
	webmail := "no"
	if req.Verification.FreeEmail {
		webmail = "yes"
	}
	return strings.TrimSpace(fmt.Sprintf(`
You decide whether a verified email address belongs to a specific person TODAY.

Return ONLY a single JSON object with these keys:
- accept (boolean)
- confidence (integer 0-100)
- reason (string, one sentence)

Decision policy:
- Accept personal webmail addresses only on a strong match between the name and the local part.
- Reject corporate-domain addresses whose domain does not match the person's CURRENT employer; it is likely a stale address from a previous job.
- Treat "catch_all" verification as weak evidence; accept only if the name is highly distinctive.
- For common names, require corroborating signals (multiple verified patterns, a distinctively matching domain) before accepting.

Person:
- name: %s %s
- current employer: %s
- title: %s
- profile: %s

Candidate:
- address: %s
- verification status: %s
- sub status: %s
- personal webmail domain: %s
- smtp provider: %s
- domain age days: %d
- other verified patterns for this person: %d
`,
		req.FirstName, req.LastName,
		orNone(req.Organization),
		orNone(req.Title),
		orNone(req.ProfileURL),
		req.Candidate,
		req.Verification.Status,
		orNone(req.Verification.SubStatus),
		webmail,
		orNone(req.Verification.SMTPProvider),
		req.Verification.DomainAgeDays,
		req.OtherVerifiedPatterns,
	))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func classifyErr(err error) error {
	// Wrap transient failures so callers can retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransientError{Err: err}
	}
	return err
}
