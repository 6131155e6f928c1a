package session

import "proxyhub/internal/types"

// Stats aggregates the tracked sessions. It is recomputed on every call.
func Stats(sessions []types.Session) types.Stats {
	stats := types.Stats{
		TrackedSessions: len(sessions),
		ByStatus:        make(map[types.Status]int),
	}
	users := make(map[string]struct{})

	for _, s := range sessions {
		stats.ByStatus[s.Status]++
		switch s.Status {
		case types.StatusConnected:
			stats.ActiveSessions++
		case types.StatusConnecting:
			stats.ConnectingSessions++
		}
		if s.Anonymous() {
			stats.AnonymousSessions++
			continue
		}
		users[s.User()] = struct{}{}
	}
	stats.UniqueUsers = len(users)
	return stats
}
