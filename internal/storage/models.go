package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailureEvent is an immutable record of a failed payment attempt.
// The ID is assigned by the store on insert.
type FailureEvent struct {
	ID           int64
	OrderID      string
	Gateway      string
	ErrorCode    string
	ErrorMessage string
	Amount       decimal.Decimal
	Currency     string
	CustomerID   string
	OccurredAt   time.Time
	Metadata     map[string]string
	CreatedAt    time.Time
}

// AttemptOutcome enumerates checkout attempt lifecycle states.
type AttemptOutcome string

const (
	OutcomeCreated   AttemptOutcome = "created"
	OutcomeProcessed AttemptOutcome = "processed"
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeFailed    AttemptOutcome = "failed"
)

// Valid reports whether the outcome is one of the known states.
func (o AttemptOutcome) Valid() bool {
	switch o {
	case OutcomeCreated, OutcomeProcessed, OutcomeSuccess, OutcomeFailed:
		return true
	}
	return false
}

// AttemptSample records a single checkout attempt. Samples are the
// denominator for failure-rate calculations.
type AttemptSample struct {
	Gateway   string
	Amount    decimal.Decimal
	Outcome   AttemptOutcome
	Timestamp time.Time
}

// AlertRecord captures a fired alert for persistence and delivery.
type AlertRecord struct {
	ID         string
	Rule       string
	Severity   string
	Message    string
	Gateway    string
	ErrorCode  string
	Thresholds map[string]string
	FailureIDs []int64
	FiredAt    time.Time
	CreatedAt  time.Time
}
