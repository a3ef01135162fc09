package game

import (
	"sort"

	"github.com/Ludge/goal-gala-quiz-time/internal/domain"
)

// Rank computes the leaderboard from raw answers. The result is a total
// order: more correct answers ranks higher, ties break by ascending total
// time of the correct answers, then by player ID for determinism. Recomputed
// from scratch every call; answers accumulate monotonically within a game
// cycle so caching across phases would go stale.
func Rank(players []domain.Player, answers []domain.Answer) []domain.LeaderboardEntry {
	byPlayer := make(map[string]*domain.LeaderboardEntry, len(players))
	entries := make([]domain.LeaderboardEntry, 0, len(players))

	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.PlayerID,
			Name:     p.Name,
		})
	}
	for i := range entries {
		byPlayer[entries[i].PlayerID] = &entries[i]
	}

	for _, a := range answers {
		e, ok := byPlayer[a.PlayerID]
		if !ok {
			// Answer from a player that already left; it still counted
			// when it was live but there is no row to attribute it to.
			continue
		}
		if a.Correct {
			e.Correct++
			e.TotalTimeMs += a.ElapsedMs
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Correct != entries[j].Correct {
			return entries[i].Correct > entries[j].Correct
		}
		if entries[i].TotalTimeMs != entries[j].TotalTimeMs {
			return entries[i].TotalTimeMs < entries[j].TotalTimeMs
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})

	return entries
}

const (
	basePoints     = 100
	maxSpeedPoints = 50
)

// Points returns the display score for one answer: a flat award for a correct
// answer plus a bonus shrinking linearly with elapsed time against the
// countdown limit.
func Points(correct bool, elapsedMs, limitMs int64) int {
	if !correct {
		return 0
	}
	if limitMs <= 0 {
		return basePoints
	}
	remaining := limitMs - elapsedMs
	if remaining < 0 {
		remaining = 0
	}
	return basePoints + int(int64(maxSpeedPoints)*remaining/limitMs)
}
