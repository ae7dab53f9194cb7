package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/prismcast/prismcast-go/internal/models"
	"github.com/prismcast/prismcast-go/internal/utils"
	"github.com/prismcast/prismcast-go/pkg/interfaces"
)

// PayoutService allocates a challenge's reward pool from the latest score
// batch. The pool splits evenly across the quantiles that were scored, and
// each quantile slice splits half by leaderboard rank, half by ensemble
// contribution weight. All arithmetic is decimal; the final rounding
// residual goes to the top earner so allocations always sum to the pool.
type PayoutService struct {
	store  interfaces.MarketStore
	logger *logrus.Logger
}

// VariablePayout is the allocation detail for one quantile.
type VariablePayout struct {
	Variable           models.Variable            `json:"variable"`
	Pool               decimal.Decimal            `json:"pool"`
	RankShares         map[string]decimal.Decimal `json:"rank_shares"`
	ContributionShares map[string]decimal.Decimal `json:"contribution_shares"`
}

// ChallengePayout is the full allocation for one challenge.
type ChallengePayout struct {
	ChallengeID string                     `json:"challenge_id"`
	BatchID     string                     `json:"batch_id"`
	Pool        decimal.Decimal            `json:"pool"`
	Variables   []VariablePayout           `json:"variables"`
	Totals      map[string]decimal.Decimal `json:"totals"`
}

// NewPayoutService creates the allocator.
func NewPayoutService(store interfaces.MarketStore, logger *logrus.Logger) *PayoutService {
	return &PayoutService{store: store, logger: logger}
}

// leaderboardMetric is the metric a quantile's payout ranking runs on. The
// median is ranked by RMSE, the tails by pinball loss; Winkler stays a
// diagnostic.
func leaderboardMetric(variable models.Variable) models.Metric {
	if variable == models.VariableQ50 {
		return models.MetricRMSE
	}
	return models.MetricPinball
}

// ComputeChallenge allocates pool across the forecasters scored in the
// challenge's latest batch. A challenge that has not been scored yet is an
// error, not an empty allocation.
func (s *PayoutService) ComputeChallenge(ctx context.Context, challengeID string, pool decimal.Decimal) (*ChallengePayout, error) {
	if pool.Sign() <= 0 {
		return nil, utils.NewValidationErrorf("reward pool must be positive, got %s", pool.String())
	}

	batchID, err := s.store.LatestScoreBatch(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up score batch: %w", err)
	}
	if batchID == "" {
		return nil, fmt.Errorf("challenge %s has no score batch yet", challengeID)
	}
	records, err := s.store.ListScores(ctx, challengeID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	results, err := s.store.ListEnsembleResults(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ensemble results: %w", err)
	}

	ranks := make(map[models.Variable]map[string]int)
	for _, record := range records {
		if record.Metric != leaderboardMetric(record.Variable) {
			continue
		}
		if ranks[record.Variable] == nil {
			ranks[record.Variable] = make(map[string]int)
		}
		ranks[record.Variable][record.ForecasterID] = record.Rank
	}

	contributions := make(map[models.Variable]map[string]float64)
	for _, result := range results {
		if len(result.Contributions) > 0 {
			contributions[result.Variable] = result.Contributions
		}
	}

	var scored []models.Variable
	for _, variable := range models.AllVariables() {
		if len(ranks[variable]) > 0 {
			scored = append(scored, variable)
		}
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("batch %s holds no ranked participants for challenge %s", batchID, challengeID)
	}

	slice := pool.Div(decimal.NewFromInt(int64(len(scored))))
	payout := &ChallengePayout{
		ChallengeID: challengeID,
		BatchID:     batchID,
		Pool:        pool,
		Totals:      make(map[string]decimal.Decimal),
	}
	for _, variable := range scored {
		vp := s.allocateVariable(variable, slice, ranks[variable], contributions[variable])
		payout.Variables = append(payout.Variables, vp)
		for id, amount := range vp.RankShares {
			payout.Totals[id] = payout.Totals[id].Add(amount)
		}
		for id, amount := range vp.ContributionShares {
			payout.Totals[id] = payout.Totals[id].Add(amount)
		}
	}

	s.settleResidual(payout)
	s.logger.WithFields(logrus.Fields{
		"challenge_id": challengeID,
		"batch_id":     batchID,
		"pool":         pool.String(),
		"variables":    len(scored),
		"forecasters":  len(payout.Totals),
	}).Info("Computed challenge payout")
	return payout, nil
}

// allocateVariable splits one quantile's slice. Rank shares are inverse-rank
// weighted (first place gets n parts of n(n+1)/2); contribution shares follow
// the stored ensemble weights. A quantile with no contributions, because its
// ensemble was unavailable or weighting fell back unscored, pays the whole
// slice by rank.
func (s *PayoutService) allocateVariable(variable models.Variable, slice decimal.Decimal, ranks map[string]int, contributions map[string]float64) VariablePayout {
	vp := VariablePayout{
		Variable:           variable,
		Pool:               slice,
		RankShares:         make(map[string]decimal.Decimal),
		ContributionShares: make(map[string]decimal.Decimal),
	}

	half := slice.Div(decimal.NewFromInt(2))
	rankPool := half
	contribPool := slice.Sub(half)
	if len(contributions) == 0 {
		rankPool = slice
		contribPool = decimal.Zero
	}

	n := int64(len(ranks))
	denominator := decimal.NewFromInt(n * (n + 1) / 2)
	for id, rank := range ranks {
		parts := decimal.NewFromInt(n - int64(rank) + 1)
		vp.RankShares[id] = rankPool.Mul(parts).Div(denominator)
	}

	if contribPool.Sign() > 0 {
		total := decimal.Zero
		weights := make(map[string]decimal.Decimal, len(contributions))
		ids := make([]string, 0, len(contributions))
		for id := range contributions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			w := decimal.NewFromFloat(contributions[id])
			if w.Sign() <= 0 {
				continue
			}
			weights[id] = w
			total = total.Add(w)
		}
		if total.Sign() > 0 {
			for id, w := range weights {
				vp.ContributionShares[id] = contribPool.Mul(w).Div(total)
			}
		} else {
			// Degenerate weights: fold the slice back into rank shares.
			for id := range vp.RankShares {
				parts := decimal.NewFromInt(n - int64(ranks[id]) + 1)
				vp.RankShares[id] = vp.RankShares[id].Add(contribPool.Mul(parts).Div(denominator))
			}
		}
	}
	return vp
}

// settleResidual hands the division leftovers to the largest earner so the
// totals sum to the pool exactly. Ties break toward the smaller id.
func (s *PayoutService) settleResidual(payout *ChallengePayout) {
	allocated := decimal.Zero
	ids := make([]string, 0, len(payout.Totals))
	for id, amount := range payout.Totals {
		allocated = allocated.Add(amount)
		ids = append(ids, id)
	}
	residual := payout.Pool.Sub(allocated)
	if residual.IsZero() || len(ids) == 0 {
		return
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := payout.Totals[ids[i]], payout.Totals[ids[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ids[i] < ids[j]
	})
	payout.Totals[ids[0]] = payout.Totals[ids[0]].Add(residual)
	s.logger.WithFields(logrus.Fields{
		"forecaster_id": ids[0],
		"residual":      residual.String(),
	}).Debug("Settled payout rounding residual")
}

// ComputeSession allocates an even per-challenge share of pool for every
// challenge of the session that has been scored. Unscored challenges are
// skipped and reported, not fatal.
func (s *PayoutService) ComputeSession(ctx context.Context, sessionID string, pool decimal.Decimal) ([]ChallengePayout, error) {
	if pool.Sign() <= 0 {
		return nil, utils.NewValidationErrorf("reward pool must be positive, got %s", pool.String())
	}
	challenges, err := s.store.ListChallengesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session challenges: %w", err)
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("session %s has no challenges", sessionID)
	}

	slice := pool.Div(decimal.NewFromInt(int64(len(challenges))))
	payouts := make([]ChallengePayout, 0, len(challenges))
	for _, challenge := range challenges {
		payout, err := s.ComputeChallenge(ctx, challenge.ID, slice)
		if err != nil {
			s.logger.WithError(err).WithField("challenge_id", challenge.ID).Warn("Skipping unscored challenge in session payout")
			continue
		}
		payouts = append(payouts, *payout)
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("no challenge of session %s is scored yet", sessionID)
	}
	return payouts, nil
}
