package leaderboard

import (
	"sort"

	"github.com/victornm/livequiz/internal/domain"
)

const DefaultTopN = 10

// Project ranks the session's participants by score, highest first. Ties keep join order.
// A non-positive limit returns every participant.
func Project(s *domain.Session, limit int) domain.Leaderboard {
	ps := s.OrderedParticipants()
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Score > ps[j].Score
	})

	if limit > 0 && len(ps) > limit {
		ps = ps[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ps))
	for i, p := range ps {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ParticipantID,
			Name:          p.Name,
			Score:         p.Score,
			Connected:     p.Connected,
			Answered:      len(p.Answers),
		})
	}

	return domain.Leaderboard{
		SessionID: s.SessionID,
		Entries:   entries,
	}
}
