package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test ascending ranking with total participant counts
func TestRank_Ascending(t *testing.T) {
	entries := []Entry{
		{SubmissionID: "s1", ForecasterID: "fc-a", Value: 3.2},
		{SubmissionID: "s2", ForecasterID: "fc-b", Value: 1.1},
		{SubmissionID: "s3", ForecasterID: "fc-c", Value: 2.0},
	}

	ranked := Rank(entries)
	require.Len(t, ranked, 3)

	assert.Equal(t, "fc-b", ranked[0].ForecasterID)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, "fc-c", ranked[1].ForecasterID)
	assert.Equal(t, 2, ranked[1].Rank)
	assert.Equal(t, "fc-a", ranked[2].ForecasterID)
	assert.Equal(t, 3, ranked[2].Rank)

	for _, r := range ranked {
		assert.Equal(t, 3, r.TotalParticipants)
	}
}

// Test deterministic tie-break by forecaster id
func TestRank_TieBreak(t *testing.T) {
	entries := []Entry{
		{ForecasterID: "fc-z", Value: 1.0},
		{ForecasterID: "fc-a", Value: 1.0},
		{ForecasterID: "fc-m", Value: 1.0},
	}

	ranked := Rank(entries)
	assert.Equal(t, "fc-a", ranked[0].ForecasterID)
	assert.Equal(t, "fc-m", ranked[1].ForecasterID)
	assert.Equal(t, "fc-z", ranked[2].ForecasterID)

	// Same input in a different order ranks identically.
	again := Rank([]Entry{entries[1], entries[2], entries[0]})
	for i := range ranked {
		assert.Equal(t, ranked[i].ForecasterID, again[i].ForecasterID)
		assert.Equal(t, ranked[i].Rank, again[i].Rank)
	}
}

// Test non-finite scores sort last and input order is preserved elsewhere
func TestRank_NaNLast(t *testing.T) {
	entries := []Entry{
		{ForecasterID: "fc-nan", Value: math.NaN()},
		{ForecasterID: "fc-ok", Value: 5.0},
	}

	ranked := Rank(entries)
	assert.Equal(t, "fc-ok", ranked[0].ForecasterID)
	assert.Equal(t, "fc-nan", ranked[1].ForecasterID)
	assert.Equal(t, 2, ranked[1].Rank)
}

// Test empty input
func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}
