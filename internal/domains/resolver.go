package domains

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrNoDomain means the organization name was empty or yielded nothing usable;
// the contact terminates early and no paid calls are issued for it.
var ErrNoDomain = errors.New("no usable domain for organization")

// Source records how a candidate domain was produced.
type Source string

const (
	SourceKnown   Source = "known_company"
	SourceDerived Source = "derived"
)

// Domain is one candidate mail domain for an organization, in rank order.
type Domain struct {
	Name        string
	Source      Source
	MXValidated bool
}

// LookupMXFunc resolves MX records for a domain. Injectable for tests.
type LookupMXFunc func(ctx context.Context, domain string) ([]*net.MX, error)

// Resolver maps an organization name to a ranked list of candidate mail
// domains: a known-company table first, then a generic suffix-stripped
// derivation across a fixed TLD set. MX lookups are cached for the life of the
// resolver so contacts sharing an employer do not repeat DNS traffic.
type Resolver struct {
	lookup  LookupMXFunc
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]bool
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLookupMX replaces the DNS lookup, typically with a fake in tests.
func WithLookupMX(fn LookupMXFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// NewResolver builds a resolver using the system DNS resolver by default.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		timeout: 5 * time.Second,
		cache:   make(map[string]bool),
	}
	r.lookup = func(ctx context.Context, domain string) ([]*net.MX, error) {
		return net.DefaultResolver.LookupMX(ctx, domain)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tldVariants is the fixed priority order for derived domains.
var tldVariants = []string{".com", ".org", ".io", ".co"}

// corporateSuffixes are trailing tokens stripped before slugifying an
// organization name. Stripping repeats, so "Acme Holdings LLC" reduces to
// "Acme".
var corporateSuffixes = map[string]bool{
	"inc":           true,
	"incorporated":  true,
	"llc":           true,
	"llp":           true,
	"ltd":           true,
	"limited":       true,
	"corp":          true,
	"corporation":   true,
	"co":            true,
	"company":       true,
	"plc":           true,
	"gmbh":          true,
	"foundation":    true,
	"fund":          true,
	"trust":         true,
	"group":         true,
	"holdings":      true,
	"international": true,
	"partners":      true,
	"associates":    true,
	"ventures":      true,
	"enterprises":   true,
}

// knownDomains maps normalized well-known employer names straight to their
// primary mail domain, skipping derivation entirely.
var knownDomains = map[string]string{
	"google":        "google.com",
	"alphabet":      "google.com",
	"microsoft":     "microsoft.com",
	"apple":         "apple.com",
	"amazon":        "amazon.com",
	"meta":          "meta.com",
	"facebook":      "meta.com",
	"netflix":       "netflix.com",
	"salesforce":    "salesforce.com",
	"oracle":        "oracle.com",
	"ibm":           "ibm.com",
	"intel":         "intel.com",
	"adobe":         "adobe.com",
	"cisco":         "cisco.com",
	"nvidia":        "nvidia.com",
	"stripe":        "stripe.com",
	"airbnb":        "airbnb.com",
	"uber":          "uber.com",
	"lyft":          "lyft.com",
	"linkedin":      "linkedin.com",
	"spotify":       "spotify.com",
	"dropbox":       "dropbox.com",
	"slack":         "slack.com",
	"shopify":       "shopify.com",
	"goldman sachs": "gs.com",
	"jpmorgan":      "jpmorgan.com",
	"mckinsey":      "mckinsey.com",
	"deloitte":      "deloitte.com",
	"accenture":     "accenture.com",
}

// KnownDomain returns the mapped mail domain for a well-known employer name,
// tolerating case and corporate suffixes ("Google LLC" hits "google").
func KnownDomain(org string) (string, bool) {
	key := strings.Join(stripSuffixes(tokenize(org)), " ")
	d, ok := knownDomains[key]
	return d, ok
}

// Resolve returns ranked, MX-checked candidate mail domains for the
// organization. A failed MX lookup demotes a derived domain below validated
// ones but does not discard it.
func (r *Resolver) Resolve(ctx context.Context, org string) ([]Domain, error) {
	if strings.TrimSpace(org) == "" {
		return nil, ErrNoDomain
	}

	if known, ok := KnownDomain(org); ok {
		return []Domain{{
			Name:        known,
			Source:      SourceKnown,
			MXValidated: r.hasMX(ctx, known),
		}}, nil
	}

	tokens := stripSuffixes(tokenize(org))
	stripped := slugify(strings.Join(tokens, ""))
	full := slugify(strings.Join(tokenize(org), ""))
	if stripped == "" && full == "" {
		return nil, ErrNoDomain
	}

	var names []string
	seen := make(map[string]bool)
	for _, slug := range []string{stripped, full} {
		if slug == "" {
			continue
		}
		for _, tld := range tldVariants {
			name := slug + tld
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	var validated, demoted []Domain
	for _, name := range names {
		d := Domain{
			Name:        name,
			Source:      SourceDerived,
			MXValidated: r.hasMX(ctx, name),
		}
		if d.MXValidated {
			validated = append(validated, d)
		} else {
			demoted = append(demoted, d)
		}
	}
	return append(validated, demoted...), nil
}

func (r *Resolver) hasMX(ctx context.Context, domain string) bool {
	r.mu.Lock()
	cached, ok := r.cache[domain]
	r.mu.Unlock()
	if ok {
		return cached
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	records, err := r.lookup(lookupCtx, domain)
	valid := err == nil && len(records) > 0

	r.mu.Lock()
	r.cache[domain] = valid
	r.mu.Unlock()
	return valid
}

func tokenize(org string) []string {
	org = strings.ToLower(strings.TrimSpace(org))
	org = strings.Map(func(c rune) rune {
		switch c {
		case ',', '.', '(', ')':
			return ' '
		}
		return c
	}, org)
	return strings.Fields(org)
}

func stripSuffixes(tokens []string) []string {
	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func slugify(s string) string {
	var b strings.Builder
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
