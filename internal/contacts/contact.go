package contacts

// Contact is one partial record entering the pipeline: identity is known
// (name, employer), the email field is what the pipeline resolves. A non-empty
// Email is authoritative and must never be overwritten.
type Contact struct {
	ID           int64   `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Organization string  `json:"organization_name"`
	Title        string  `json:"title,omitempty"`
	ProfileURL   string  `json:"profile_url,omitempty"`
	Email        string  `json:"email,omitempty"`
	Priority     float64 `json:"priority"`
}
