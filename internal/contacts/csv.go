package contacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ResultRow is the stable output schema for local CSV runs.
type ResultRow struct {
	ContactID    int64
	FirstName    string
	LastName     string
	Organization string
	Email        string
	Status       string
	Reason       string
	Confidence   int
}

// Header returns the stable CSV header for ResultRow.
func Header() []string {
	return []string{
		"contact_id",
		"first_name",
		"last_name",
		"organization",
		"email",
		"status",
		"reason",
		"confidence",
	}
}

// WriteResultsCSV writes rows with the stable Header() ordering.
func WriteResultsCSV(w io.Writer, rows []ResultRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.FormatInt(r.ContactID, 10),
			r.FirstName,
			r.LastName,
			r.Organization,
			r.Email,
			r.Status,
			r.Reason,
			strconv.Itoa(r.Confidence),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadContactsCSV reads the local input contract. Required columns: id,
// first_name, last_name, organization. Optional: title, profile_url, email,
// priority. Extra columns are ignored.
func ReadContactsCSV(r io.Reader) ([]Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"id", "first_name", "last_name", "organization"} {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var out []Contact
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i < 0 || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		id, err := strconv.ParseInt(get("id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid id %q", line, get("id"))
		}
		priority := 0.0
		if raw := get("priority"); raw != "" {
			priority, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid priority %q", line, raw)
			}
		}

		out = append(out, Contact{
			ID:           id,
			FirstName:    get("first_name"),
			LastName:     get("last_name"),
			Organization: get("organization"),
			Title:        get("title"),
			ProfileURL:   get("profile_url"),
			Email:        get("email"),
			Priority:     priority,
		})
	}
}
