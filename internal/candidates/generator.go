package candidates

import (
	"strings"

	"github.com/outreachkit/email-discovery/internal/domains"
)

// Candidate is one generated, not-yet-verified address for a contact. Rank is
// a strictly increasing priority across the contact's whole queue; the driver
// consumes candidates in rank order and never revisits one.
type Candidate struct {
	Address   string
	Domain    string
	LocalPart string
	Pattern   string
	Rank      int
}

// Options tunes generation.
type Options struct {
	// CatchAllDomains lists domains known to accept any local part; candidate
	// counts there are capped since "valid" is a weak signal.
	CatchAllDomains map[string]bool
	// CatchAllCap is the per-domain candidate cap for catch-all domains.
	// Defaults to 3.
	CatchAllCap int
}

func (o Options) withDefaults() Options {
	if o.CatchAllCap <= 0 {
		o.CatchAllCap = 3
	}
	return o
}

// Generate produces the ranked candidate queue for one contact across its
// ranked domains. Local parts are lower-case, whitespace-free, and ordered
// most-conventional-first.
func Generate(first, last string, doms []domains.Domain, opts Options) []Candidate {
	opts = opts.withDefaults()

	locals := localParts(first, last)
	if len(locals) == 0 {
		return nil
	}

	var out []Candidate
	rank := 0
	for _, d := range doms {
		parts := locals
		if opts.CatchAllDomains[d.Name] && len(parts) > opts.CatchAllCap {
			parts = parts[:opts.CatchAllCap]
		}
		for _, lp := range parts {
			out = append(out, Candidate{
				Address:   lp.local + "@" + d.Name,
				Domain:    d.Name,
				LocalPart: lp.local,
				Pattern:   lp.pattern,
				Rank:      rank,
			})
			rank++
		}
	}
	return out
}

type localPart struct {
	local   string
	pattern string
}

// localParts builds the ranked local-part patterns for a name. Hyphenated
// first names contribute joined, hyphen-preserving, and first-segment-only
// variants of the leading first.last pattern.
func localParts(first, last string) []localPart {
	fRaw := normalizeName(first)
	lRaw := normalizeName(last)
	if fRaw == "" || lRaw == "" {
		return nil
	}

	f := strings.ReplaceAll(fRaw, "-", "")
	l := strings.ReplaceAll(lRaw, "-", "")
	if f == "" || l == "" {
		// Hyphen-only names normalize to nothing usable.
		return nil
	}
	fi := f[:1]
	li := l[:1]

	parts := []localPart{
		{f + "." + l, "first.last"},
		{f + l, "firstlast"},
		{f + "_" + l, "first_last"},
		{fi + l, "flast"},
		{f + "." + li, "first.l"},
		{f + li, "firstl"},
		{fi + "." + l, "f.last"},
		{l + "." + f, "last.first"},
		{li + f, "lfirst"},
		{f, "first"},
	}

	var extras []localPart
	if strings.Contains(fRaw, "-") {
		seg := strings.SplitN(fRaw, "-", 2)[0]
		extras = append(extras,
			localPart{fRaw + "." + l, "first-hyphen.last"},
			localPart{seg + "." + l, "firstseg.last"},
		)
	} else if strings.Contains(lRaw, "-") {
		extras = append(extras, localPart{f + "." + lRaw, "first.last-hyphen"})
	}
	if len(extras) > 0 {
		// Hyphen variants slot in right behind the leading pattern.
		withExtras := make([]localPart, 0, len(parts)+len(extras))
		withExtras = append(withExtras, parts[0])
		withExtras = append(withExtras, extras...)
		withExtras = append(withExtras, parts[1:]...)
		parts = withExtras
	}

	return dedupe(parts)
}

// generational suffixes dropped from last names.
var nameSuffixes = map[string]bool{
	"jr":  true,
	"sr":  true,
	"ii":  true,
	"iii": true,
	"iv":  true,
}

// normalizeName lowercases, drops punctuation except hyphens, strips
// generational suffixes, and collapses internal whitespace.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == ' ':
			return c
		}
		return -1
	}, name)

	tokens := strings.Fields(name)
	for len(tokens) > 1 && nameSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, "")
}

func dedupe(parts []localPart) []localPart {
	seen := make(map[string]bool, len(parts))
	out := make([]localPart, 0, len(parts))
	for _, p := range parts {
		if p.local == "" || seen[p.local] {
			continue
		}
		seen[p.local] = true
		out = append(out, p)
	}
	return out
}
