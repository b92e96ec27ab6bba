package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAlarmNotFound = errors.New("alarm not found")
	ErrInvalidAlarm  = errors.New("invalid alarm")
)

// Direction is the crossing direction that triggers an alarm.
type Direction string

const (
	DirectionAbove Direction = "ABOVE"
	DirectionBelow Direction = "BELOW"
)

// ParseDirection accepts english and portuguese spellings, any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ABOVE", "ACIMA", ">", ">=":
		return DirectionAbove, nil
	case "BELOW", "ABAIXO", "<", "<=":
		return DirectionBelow, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidAlarm, s)
	}
}

func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Label is the human form used in messages.
func (d Direction) Label() string {
	switch d {
	case DirectionAbove:
		return "above"
	case DirectionBelow:
		return "below"
	default:
		return strings.ToLower(string(d))
	}
}

// ParseTarget parses a positive price. A comma is accepted as the decimal
// separator ("30,50").
func ParseTarget(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: target %q is not a number", ErrInvalidAlarm, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: target must be positive", ErrInvalidAlarm)
	}
	return d, nil
}

// Alarm is a standing instruction to watch one ticker for one recipient.
// At most one alarm exists per (RecipientID, Ticker); stores enforce it.
type Alarm struct {
	ID          string          `json:"id"`
	RecipientID string          `json:"recipient_id"`
	Ticker      string          `json:"ticker"`
	Direction   Direction       `json:"direction"`
	Target      decimal.Decimal `json:"target"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Normalize uppercases the ticker and trims identifiers in place.
func (a *Alarm) Normalize() {
	a.RecipientID = strings.TrimSpace(a.RecipientID)
	a.Ticker = NormalizeTicker(a.Ticker)
	a.Direction = Direction(strings.ToUpper(string(a.Direction)))
}

// Validate checks the fields a store needs before an upsert.
func (a *Alarm) Validate() error {
	if a.RecipientID == "" {
		return fmt.Errorf("%w: recipient_id is required", ErrInvalidAlarm)
	}
	if a.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidAlarm)
	}
	if !ValidTicker(a.Ticker) {
		return fmt.Errorf("%w: ticker %q must be 1 to 12 letters or digits, without a market suffix", ErrInvalidAlarm, a.Ticker)
	}
	if !a.Direction.Valid() {
		return fmt.Errorf("%w: direction must be ABOVE or BELOW", ErrInvalidAlarm)
	}
	if !a.Target.IsPositive() {
		return fmt.Errorf("%w: target must be positive", ErrInvalidAlarm)
	}
	return nil
}

// NormalizeTicker returns the store-local form of a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// ValidTicker reports whether s is a normalized store-local ticker. Market
// suffixes ("PETR4.SA") are added by the quote fetcher and never stored.
func ValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// AlarmRequest is the HTTP payload for creating or replacing an alarm.
type AlarmRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Ticker      string `json:"ticker" validate:"required,ticker"`
	Direction   string `json:"direction" default:"ABOVE" validate:"oneof=ABOVE BELOW above below"`
	Target      string `json:"target" validate:"required,price"`
}

// ListAlarmsRequest filters alarms by recipient.
type ListAlarmsRequest struct {
	RecipientID string `query:"recipient_id" json:"recipient_id"`
}

// ClearAlarmsRequest removes every alarm of one recipient.
type ClearAlarmsRequest struct {
	RecipientID string `query:"recipient_id" json:"recipient_id" validate:"required"`
}
