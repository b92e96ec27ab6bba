package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time price observation, valid for one cycle only.
// Timestamp, DayHigh and DayLow are informational and never used in matching.
type Quote struct {
	Ticker    string
	Price     decimal.Decimal
	Timestamp time.Time
	DayHigh   *decimal.Decimal
	DayLow    *decimal.Decimal
}

// Trigger records one fired alarm for the history backend.
type Trigger struct {
	CycleID     string          `json:"cycle_id"`
	AlarmID     string          `json:"alarm_id"`
	RecipientID string          `json:"recipient_id"`
	Ticker      string          `json:"ticker"`
	Direction   Direction       `json:"direction"`
	Target      decimal.Decimal `json:"target"`
	Price       decimal.Decimal `json:"price"`
	FiredAt     time.Time       `json:"fired_at"`
	Delivered   bool            `json:"delivered"`
	Error       string          `json:"error,omitempty"`
}
