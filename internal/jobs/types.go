package jobs

import (
	"fmt"
	"math"
	"time"
)

// Kind tags the workflow a job belongs to.
type Kind string

const (
	KindTranslation Kind = "translation"
	KindShipment    Kind = "shipment"
)

// ParseKind validates a kind coming off the wire. The empty string is
// accepted and means "all kinds" in list queries.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindTranslation, KindShipment:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// Status is the lifecycle state of a job. Transitions are one-directional:
// pending -> processing -> {completed, failed, cancelled}, with
// pending -> cancelled allowed. Nothing leaves a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// UnitOutcome records the result of one unit of work (one slide, one market
// file). Unit indexes are 1-based and follow report order.
type UnitOutcome struct {
	Unit   int    `json:"unit"`
	Method string `json:"method"`
	Model  string `json:"model,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the unit ended in error.
func (o UnitOutcome) Failed() bool {
	return o.Error != ""
}

// Usage accumulates collaborator spend across units.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u *Usage) Add(delta Usage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.CostUSD += delta.CostUSD
}

// Record describes one submitted unit of work end to end.
type Record struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Status    Status `json:"status"`
	InputRef  string `json:"input_ref"`
	InputName string `json:"input_name"`
	OutputRef string `json:"output_ref,omitempty"`
	// Options carries the kind-specific submission options as opaque JSON;
	// only the workflow adapters interpret it.
	Options     string        `json:"options,omitempty"`
	UnitsDone   int           `json:"units_done"`
	UnitsTotal  int           `json:"units_total"`
	Outcomes    []UnitOutcome `json:"outcomes"`
	Usage       Usage         `json:"usage"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Percent derives display progress: 100 only once completed, otherwise
// capped at 99 so a finished-looking bar never precedes the terminal state.
func (r *Record) Percent() int {
	switch {
	case r.Status == StatusCompleted:
		return 100
	case r.UnitsTotal <= 0 || r.UnitsDone <= 0:
		return 0
	default:
		p := int(math.Round(100 * float64(r.UnitsDone) / float64(r.UnitsTotal)))
		if p > 99 {
			p = 99
		}
		return p
	}
}

// FailedUnits counts units whose outcome carries an error.
func (r *Record) FailedUnits() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	tmp := *r
	if r.Outcomes != nil {
		tmp.Outcomes = make([]UnitOutcome, len(r.Outcomes))
		copy(tmp.Outcomes, r.Outcomes)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		tmp.CompletedAt = &t
	}
	return &tmp
}
