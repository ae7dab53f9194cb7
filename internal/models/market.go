package models

import (
	"fmt"
	"time"
)

// SessionStatus tracks a market session through its daily lifecycle.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionLaunched  SessionStatus = "launched"
	SessionFinished  SessionStatus = "finished"
)

var sessionOrder = map[SessionStatus]int{
	SessionScheduled: 0,
	SessionOpen:      1,
	SessionClosed:    2,
	SessionLaunched:  3,
	SessionFinished:  4,
}

// Valid reports whether the status is one of the five lifecycle states.
func (s SessionStatus) Valid() bool {
	_, ok := sessionOrder[s]
	return ok
}

// CanTransitionTo reports whether target is the immediate next state. The
// lifecycle is a strict linear chain; skipping states is never allowed.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	from, ok := sessionOrder[s]
	if !ok {
		return false
	}
	to, ok := sessionOrder[target]
	if !ok {
		return false
	}
	return to == from+1
}

// AtLeast reports whether the status has reached target in lifecycle order.
func (s SessionStatus) AtLeast(target SessionStatus) bool {
	from, ok := sessionOrder[s]
	if !ok {
		return false
	}
	to, ok := sessionOrder[target]
	if !ok {
		return false
	}
	return from >= to
}

// UseCase tags the kind of resource a challenge forecasts.
type UseCase string

const (
	UseCaseWindPower  UseCase = "wind_power"
	UseCaseSolarPower UseCase = "solar_power"
)

// Valid reports whether the use case is a known resource kind.
func (u UseCase) Valid() bool {
	switch u {
	case UseCaseWindPower, UseCaseSolarPower:
		return true
	}
	return false
}

// MarketSession is one daily run of the market. Timestamps are stamped by
// the state machine as each transition happens and stay nil until reached;
// GateClosureAt is the authoritative submission cutoff fixed at creation.
type MarketSession struct {
	ID            string        `json:"id" db:"id"`
	SessionDate   time.Time     `json:"session_date" db:"session_date"`
	Status        SessionStatus `json:"status" db:"status"`
	GateClosureAt time.Time     `json:"gate_closure_at" db:"gate_closure_at"`
	OpenedAt      *time.Time    `json:"opened_at,omitempty" db:"opened_at"`
	ClosedAt      *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
	LaunchedAt    *time.Time    `json:"launched_at,omitempty" db:"launched_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// EffectiveCutoff returns the timestamp submissions are judged against: the
// actual gate-closure transition time once stamped, the planned cutoff before.
func (s *MarketSession) EffectiveCutoff() time.Time {
	if s.ClosedAt != nil {
		return *s.ClosedAt
	}
	return s.GateClosureAt
}

// Challenge is one forecasting opportunity: a resource and a target period,
// owned by a session. Immutable once created.
type Challenge struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	UseCase    UseCase   `json:"use_case" db:"use_case"`
	ResourceID string    `json:"resource_id" db:"resource_id"`
	StartAt    time.Time `json:"start_at" db:"start_at"`
	EndAt      time.Time `json:"end_at" db:"end_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Period returns the challenge target period.
func (c *Challenge) Period() Period {
	return Period{Start: c.StartAt, End: c.EndAt}
}

// Resource is a forecastable asset registered with the market. Its timezone
// defines challenge period boundaries; Signed disables the non-negative
// output clip for quantities that can legitimately go below zero.
type Resource struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	UseCase   UseCase   `json:"use_case" db:"use_case"`
	Timezone  string    `json:"timezone" db:"timezone"`
	Signed    bool      `json:"signed" db:"signed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Location resolves the resource's IANA timezone.
func (r *Resource) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q for resource %s: %w", r.Timezone, r.ID, err)
	}
	return loc, nil
}

// Forecaster is a market participant submitting quantile forecasts.
type Forecaster struct {
	ID             string    `json:"id" db:"id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	TelegramChatID *string   `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
