package registry

// Status is the submission lifecycle state. A submission only ever
// moves forward; once terminal it is immutable and a resubmission is
// a brand new record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusValidated    Status = "validated"
	StatusEvaluating   Status = "evaluating"
	StatusScored       Status = "scored"
	StatusRejected     Status = "rejected"
	StatusDisqualified Status = "disqualified"
)

// Terminal reports whether no further pipeline work will happen for
// a submission in this state.
func (s Status) Terminal() bool {
	switch s {
	case StatusScored, StatusRejected, StatusDisqualified:
		return true
	}
	return false
}

// validNext is the full transition table. Disqualification can cut in
// from any state, including scored.
var validNext = map[Status][]Status{
	StatusPending:    {StatusValidating, StatusRejected, StatusDisqualified},
	StatusValidating: {StatusValidated, StatusRejected, StatusDisqualified},
	StatusValidated:  {StatusEvaluating, StatusRejected, StatusDisqualified},
	StatusEvaluating: {StatusScored, StatusRejected, StatusDisqualified},
	StatusScored:     {StatusDisqualified},
}

func allowedTransition(from, to Status) bool {
	for _, n := range validNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Rejection reasons surfaced to miners. These are machine readable and
// stable; the web layer passes them through untouched.
const (
	ReasonStakeIneligible   = "stake_ineligible"
	ReasonFetchNotFound     = "fetch_not_found"
	ReasonFetchTimeout      = "fetch_timeout"
	ReasonIncompleteBundle  = "incomplete_bundle"
	ReasonBuildError        = "build_error"
	ReasonStartupError      = "startup_error"
	ReasonValidationTimeout = "validation_timeout"
	ReasonSchemaError       = "schema_error"
)
