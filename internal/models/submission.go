package models

import (
	"fmt"
	"time"
)

// Variable identifies which quantile a forecast series belongs to.
type Variable string

const (
	VariableQ10 Variable = "q10"
	VariableQ50 Variable = "q50"
	VariableQ90 Variable = "q90"
)

// AllVariables returns the quantile variables in their fixed market order.
func AllVariables() []Variable {
	return []Variable{VariableQ10, VariableQ50, VariableQ90}
}

// Valid reports whether the variable is a known quantile.
func (v Variable) Valid() bool {
	switch v {
	case VariableQ10, VariableQ50, VariableQ90:
		return true
	}
	return false
}

// Level returns the quantile level as a probability (0.10, 0.50, 0.90).
func (v Variable) Level() float64 {
	switch v {
	case VariableQ10:
		return 0.10
	case VariableQ50:
		return 0.50
	case VariableQ90:
		return 0.90
	}
	return 0
}

// ParseVariable converts a wire value into a Variable.
func ParseVariable(s string) (Variable, error) {
	v := Variable(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown quantile variable %q", s)
	}
	return v, nil
}

// Submission is one forecaster's series for one quantile. Challenge
// submissions compete; historical ones (ChallengeID empty, Historical true)
// only feed strategy training. Effectiveness is decided at gate closure:
// the latest RegisteredAt at or before the session cutoff wins, anything
// after is stored but never used.
type Submission struct {
	ID           string     `json:"id" db:"id"`
	ForecasterID string     `json:"forecaster_id" db:"forecaster_id"`
	ChallengeID  string     `json:"challenge_id,omitempty" db:"challenge_id"`
	ResourceID   string     `json:"resource_id" db:"resource_id"`
	Variable     Variable   `json:"variable" db:"variable"`
	Series       Series     `json:"series"`
	RegisteredAt time.Time  `json:"registered_at" db:"registered_at"`
	Historical   bool       `json:"historical" db:"historical"`
	LaunchTime   *time.Time `json:"launch_time,omitempty" db:"launch_time"`
}
