package mockverifier

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Call records a request made to the mock provider.
type Call struct {
	Path  string
	Email string
}

// Response is one wire-format verification verdict.
type Response struct {
	Address       string `json:"address"`
	Status        string `json:"status"`
	SubStatus     string `json:"sub_status,omitempty"`
	FreeEmail     bool   `json:"free_email"`
	DomainAgeDays int    `json:"domain_age_days,omitempty"`
	ActiveInDays  int    `json:"active_in_days,omitempty"`
	SMTPProvider  string `json:"smtp_provider,omitempty"`
}

// Server implements the verification provider's /validate and /getcredits
// endpoints with deterministic, scriptable verdicts. It exists so local runs
// and tests exercise the full pipeline without spending real credits.
//
// Default verdict: invalid. Addresses marked valid and domains marked
// catch-all override that; fully scripted responses override everything.
type Server struct {
	mu sync.Mutex

	apiKey  string
	credits int

	calls    []Call
	valid    map[string]bool
	catchAll map[string]bool
	scripted map[string]Response

	// failNext holds HTTP status codes returned verbatim to upcoming
	// /validate calls, consumed front to back. Scripts throttling and
	// provider outages.
	failNext []int
}

// New constructs a mock provider with the given starting credit balance.
func New(credits int) *Server {
	return &Server{
		credits:  credits,
		valid:    make(map[string]bool),
		catchAll: make(map[string]bool),
		scripted: make(map[string]Response),
	}
}

// RequireAPIKey enforces the api_key query parameter. Empty disables the
// check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// SetValid marks addresses that verify as valid.
func (s *Server) SetValid(addresses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addresses {
		s.valid[strings.ToLower(a)] = true
	}
}

// SetCatchAll marks domains whose every address reports catch-all.
func (s *Server) SetCatchAll(domains ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range domains {
		s.catchAll[strings.ToLower(d)] = true
	}
}

// Script pins an exact response for one address.
func (s *Server) Script(address string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp.Address = strings.ToLower(address)
	s.scripted[resp.Address] = resp
}

// FailNext makes the next /validate calls answer with the given HTTP status
// codes, in order.
func (s *Server) FailNext(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, codes...)
}

// Calls returns a snapshot of the /validate calls received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Credits returns the remaining balance.
func (s *Server) Credits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits
}

// Handler returns the http.Handler serving the provider API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/getcredits", s.handleCredits)
	return mux
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))

	s.mu.Lock()
	if s.apiKey != "" && r.URL.Query().Get("api_key") != s.apiKey {
		s.mu.Unlock()
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	if len(s.failNext) > 0 {
		code := s.failNext[0]
		s.failNext = s.failNext[1:]
		s.mu.Unlock()
		w.WriteHeader(code)
		return
	}
	s.calls = append(s.calls, Call{Path: r.URL.Path, Email: email})
	resp := s.verdictLocked(email)
	if billable(resp.Status) && s.credits > 0 {
		s.credits--
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) verdictLocked(email string) Response {
	if resp, ok := s.scripted[email]; ok {
		return resp
	}
	resp := Response{Address: email, Status: "invalid", SMTPProvider: "mock"}
	if s.valid[email] {
		resp.Status = "valid"
		resp.ActiveInDays = 30
		return resp
	}
	if at := strings.LastIndex(email, "@"); at >= 0 && s.catchAll[email[at+1:]] {
		resp.Status = "catch-all"
	}
	return resp
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.apiKey != "" && r.URL.Query().Get("api_key") != s.apiKey {
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"credits": -1})
		return
	}
	credits := s.credits
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"credits": credits})
}

func billable(status string) bool {
	switch status {
	case "unknown", "":
		return false
	}
	return true
}
