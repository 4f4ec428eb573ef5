package intentd

// Request 是一轮自然语言输入。
type Request struct {
	TurnID      string             `json:"turn_id,omitempty"`
	SessionID   string             `json:"session_id,omitempty"`
	Text        string             `json:"text"`
	Balances    map[string]float64 `json:"balances,omitempty"`
	Chain       string             `json:"chain,omitempty"`
	UserAddress string             `json:"user_address,omitempty"`
}

// Parameters groups command parameters. Values are JSON numbers or strings.
type Parameters struct {
	Primary  map[string]any `json:"primary"`
	Optional map[string]any `json:"optional"`
	Derived  map[string]any `json:"derived"`
}

// Lookup searches primary, optional and derived parameters in that order.
func (p Parameters) Lookup(name string) (any, bool) {
	for _, set := range []map[string]any{p.Primary, p.Optional, p.Derived} {
		if v, ok := set[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Command is an executable DeFi command produced by the pipeline.
type Command struct {
	ID                   string     `json:"id"`
	Intent               string     `json:"intent"`
	SubIntent            string     `json:"sub_intent,omitempty"`
	Action               string     `json:"action"`
	Parameters           Parameters `json:"parameters"`
	RiskLevel            string     `json:"risk_level"`
	RiskScore            int        `json:"risk_score"`
	ConfirmationRequired bool       `json:"confirmation_required"`
	EstimatedGas         *uint64    `json:"estimated_gas,omitempty"`
	ValidationStatus     string     `json:"validation_status"`
}

// ValidationError is one finding of command validation.
type ValidationError struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Disambiguation asks the user to clarify the request.
type Disambiguation struct {
	Question          string   `json:"question"`
	Options           []string `json:"options,omitempty"`
	MissingParameters []string `json:"missing_parameters"`
}

// ProcessingResult is the outcome of command building.
type ProcessingResult struct {
	Command                *Command          `json:"command,omitempty"`
	ValidationErrors       []ValidationError `json:"validation_errors,omitempty"`
	RequiresDisambiguation bool              `json:"requires_disambiguation"`
	Disambiguation         *Disambiguation   `json:"disambiguation,omitempty"`
	Suggestions            []string          `json:"suggestions,omitempty"`
}

// Classification is the recognised intent.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	SubIntent  string  `json:"sub_intent,omitempty"`
	Strategy   string  `json:"strategy"`
}

// Failure describes why a turn stopped early.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TurnResult is the full output of one turn.
type TurnResult struct {
	TurnID         string            `json:"turn_id"`
	SessionID      string            `json:"session_id,omitempty"`
	Text           string            `json:"text"`
	State          string            `json:"state"`
	History        []string          `json:"history"`
	Classification *Classification   `json:"classification,omitempty"`
	Result         *ProcessingResult `json:"result,omitempty"`
	Failure        *Failure          `json:"failure,omitempty"`
	Suggestions    []string          `json:"suggestions,omitempty"`
}

// Command returns the built command, or nil.
func (r *TurnResult) Command() *Command {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.Command
}

// Turn statuses.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSuperseded = "superseded"
)

// Turn is the asynchronous record of a submitted request.
type Turn struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id,omitempty"`
	Request    Request     `json:"request"`
	Status     string      `json:"status"`
	State      string      `json:"state,omitempty"`
	Attempts   int         `json:"attempts"`
	MaxRetries int         `json:"max_retries"`
	LastError  string      `json:"last_error,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	Result     *TurnResult `json:"result,omitempty"`
	CreatedAt  int64       `json:"created_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// Finished reports whether the server will not process the turn again.
func (t *Turn) Finished() bool {
	switch t.Status {
	case StatusCompleted, StatusSuperseded:
		return true
	case StatusFailed:
		return t.Attempts >= t.MaxRetries
	}
	return false
}

// TurnStats aggregates turns by status.
type TurnStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Superseded      int   `json:"superseded"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListQuery filters ListTurns. Zero values are omitted.
type ListQuery struct {
	Limit     int
	Offset    int
	Statuses  []string
	SessionID string
	Query     string
	Ascending bool
}
