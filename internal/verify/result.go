package verify

// Status is the verification outcome reported by the provider for one address.
type Status string

const (
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusCatchAll  Status = "catch_all"
	StatusUnknown   Status = "unknown"
	StatusSpamtrap  Status = "spamtrap"
	StatusAbuse     Status = "abuse"
	StatusDoNotMail Status = "do_not_mail"
)

// Sub-statuses the gateway treats as transient. The provider returns these with
// status "unknown" when the target mail server refused to give a definitive
// answer on this attempt.
const (
	SubGreylisted          = "greylisted"
	SubMailServerTempError = "mail_server_temporary_error"
	SubForcibleDisconnect  = "forcible_disconnect"
	SubAlternate           = "alternate"
	SubAntispamSystem      = "antispam_system"
)

// Result is the provider's verdict for a single candidate address.
type Result struct {
	Address       string
	Status        Status
	SubStatus     string
	FreeEmail     bool
	DomainAgeDays int
	ActiveInDays  int
	SMTPProvider  string

	// CostCharged is true when the call consumed a credit. Only "unknown"
	// results are free.
	CostCharged bool
}

// Billable reports whether the provider charges a credit for this result.
func (r Result) Billable() bool {
	return r.Status != StatusUnknown
}

func transientSubStatus(sub string) bool {
	switch sub {
	case SubGreylisted, SubMailServerTempError, SubForcibleDisconnect:
		return true
	}
	return false
}
