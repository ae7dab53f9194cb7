package models

import "time"

// Metric names a scoring rule. Lower is always better.
type Metric string

const (
	MetricRMSE    Metric = "rmse"
	MetricMAE     Metric = "mae"
	MetricPinball Metric = "pinball"
	MetricWinkler Metric = "winkler"
)

// EnsembleResult is the combined forecast for one (challenge, variable):
// the series, the strategy that produced it, and the per-forecaster weights
// actually used (uniform for unweighted strategies). Weights are fixed at
// gate closure; Contributions is filled once by the finish transition after
// scoring. An unavailable result keeps the flag false and carries a reason.
type EnsembleResult struct {
	ID            string             `json:"id" db:"id"`
	ChallengeID   string             `json:"challenge_id" db:"challenge_id"`
	Variable      Variable           `json:"variable" db:"variable"`
	Strategy      string             `json:"strategy" db:"strategy"`
	Series        Series             `json:"series"`
	Weights       map[string]float64 `json:"weights"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
	Available     bool               `json:"available" db:"available"`
	Reason        string             `json:"reason,omitempty" db:"reason"`
	ComputedAt    time.Time          `json:"computed_at" db:"computed_at"`
}

// ScoreRecord is one metric evaluation of one submission against ground
// truth, together with its rank among all scored participants for the same
// (challenge, variable, metric). Re-evaluation never edits records in place:
// it writes a fresh batch and readers follow the latest BatchID.
type ScoreRecord struct {
	ID                string    `json:"id" db:"id"`
	BatchID           string    `json:"batch_id" db:"batch_id"`
	SubmissionID      string    `json:"submission_id" db:"submission_id"`
	ChallengeID       string    `json:"challenge_id" db:"challenge_id"`
	ForecasterID      string    `json:"forecaster_id" db:"forecaster_id"`
	Variable          Variable  `json:"variable" db:"variable"`
	Metric            Metric    `json:"metric" db:"metric"`
	Value             float64   `json:"value" db:"value"`
	Rank              int       `json:"rank" db:"rank"`
	TotalParticipants int       `json:"total_participants" db:"total_participants"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
