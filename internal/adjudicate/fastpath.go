package adjudicate

import "strings"

// FastPath reports whether adjudication can be skipped for a candidate: the
// full name is literally present in the local part, the domain is one derived
// from the contact's current employer, and verification confidence already
// clears the threshold. The bypass is a cost/latency optimization only; an
// eligible candidate would also be accepted by the full adjudication path.
func FastPath(first, last, address string, employerDomains []string, confidence, threshold int) bool {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at+1 >= len(address) {
		return false
	}
	local := strings.ToLower(address[:at])
	domain := strings.ToLower(address[at+1:])

	f := bareName(first)
	l := bareName(last)
	if f == "" || l == "" {
		return false
	}
	if !strings.Contains(local, f) || !strings.Contains(local, l) {
		return false
	}

	matched := false
	for _, d := range employerDomains {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	return confidence >= threshold
}

func bareName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
