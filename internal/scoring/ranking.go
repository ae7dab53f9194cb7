package scoring

import (
	"math"
	"sort"
)

// Entry is one forecaster's metric value entering a ranking.
type Entry struct {
	SubmissionID string
	ForecasterID string
	Value        float64
}

// RankedEntry is an Entry with its assigned rank and the field size.
type RankedEntry struct {
	Entry
	Rank              int
	TotalParticipants int
}

// Rank orders entries ascending by value (lower is better) and assigns ranks
// 1..N. Equal values are broken by ascending forecaster id, which keeps the
// ordering deterministic across runs. Non-finite values sort last.
func Rank(entries []Entry) []RankedEntry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)

	sort.Slice(sorted, func(i, j int) bool {
		vi, vj := sorted[i].Value, sorted[j].Value
		if math.IsNaN(vi) {
			vi = math.Inf(1)
		}
		if math.IsNaN(vj) {
			vj = math.Inf(1)
		}
		if vi != vj {
			return vi < vj
		}
		return sorted[i].ForecasterID < sorted[j].ForecasterID
	})

	ranked := make([]RankedEntry, len(sorted))
	for i, e := range sorted {
		ranked[i] = RankedEntry{Entry: e, Rank: i + 1, TotalParticipants: len(sorted)}
	}
	return ranked
}
