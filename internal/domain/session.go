package domain

// SessionState is the lifecycle state of an interactive session.
type SessionState string

const (
	// StateAwaitingCredential is the initial state: no conversation is possible yet.
	StateAwaitingCredential SessionState = "awaiting_credential"
	// StateActive is entered once a non-empty credential has been supplied.
	StateActive SessionState = "active"
)

// CompletionOptions selects the backend model variant and sampling temperature.
type CompletionOptions struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// Validate checks the options before any network call is attempted.
func (o CompletionOptions) Validate() error {
	if o.Model == "" {
		return InvalidInput("model is required")
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return InvalidInput("temperature must be within [0, 2]")
	}
	return nil
}
