package game

import (
	"cmp"
	"slices"

	"github.com/scythe504/horde-backend/internal"
)

// CalculateFinalResults compiles leaderboard and awards from a finished session
func CalculateFinalResults(session *internal.Session) *internal.FinalResults {
	results := &internal.FinalResults{Leaderboard: make([]internal.PlayerResult, 0)}
	if session == nil {
		return results
	}

	for _, p := range session.Players {
		results.Leaderboard = append(results.Leaderboard, internal.PlayerResult{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Kills:       p.Kills,
			Deaths:      p.Deaths,
			Score:       p.Score,
		})
	}

	// Score descending, then kills, then join order
	slices.SortStableFunc(results.Leaderboard, func(a, b internal.PlayerResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.Kills, a.Kills)
	})
	for idx := range results.Leaderboard {
		results.Leaderboard[idx].Position = idx + 1
	}

	if len(results.Leaderboard) > 0 {
		mvp := results.Leaderboard[0]
		results.MVP = &mvp

		best := results.Leaderboard[0]
		for _, r := range results.Leaderboard[1:] {
			if r.Kills > best.Kills {
				best = r
			}
		}
		if best.Kills > 0 {
			results.MostKills = &best
		}
	}

	for _, w := range session.WaveHistory {
		if w.Completed {
			results.WavesCleared++
		}
	}
	results.TotalPlayers = len(session.Players)
	if session.EndTime != nil {
		results.DurationMs = session.EndTime.Sub(session.StartTime).Milliseconds()
	}
	return results
}
