package battle

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"
)

type Round string

const (
	RoundBracket    Round = "bracket"
	RoundSemifinals Round = "semifinals"
	RoundFinal      Round = "final"
)

// Match is one two-player encounter. It runs its own question sequence over
// the room's shared question set, with its own Progress clock. Scores,
// streaks and answered counts are match-local so the winner is derivable
// from the match alone.
type Match struct {
	ID       string         `json:"id"`
	Slot     int            `json:"slot"`
	Players  [2]string      `json:"players"`
	Scores   map[string]int `json:"scores"`
	Streaks  map[string]int `json:"streaks"`
	Answered map[string]int `json:"answered"`
	Status   Status         `json:"status"`
	Progress Progress       `json:"progress"`
	Winner   string         `json:"winner,omitempty"`
}

func (m Match) has(playerID string) bool {
	return m.Players[0] == playerID || m.Players[1] == playerID
}

func (m Match) Opponent(playerID string) string {
	if m.Players[0] == playerID {
		return m.Players[1]
	}
	return m.Players[0]
}

// winner applies the tie-break chain: higher score, then higher streak,
// then lexicographically smaller id. Deterministic, so every client
// resolves the same winner from shared state.
func (m Match) winner() string {
	a, b := m.Players[0], m.Players[1]
	if m.Scores[a] != m.Scores[b] {
		if m.Scores[a] > m.Scores[b] {
			return a
		}
		return b
	}
	if m.Streaks[a] != m.Streaks[b] {
		if m.Streaks[a] > m.Streaks[b] {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

// Bracket holds the elimination state for a tournament room. Matches are
// keyed by id under their round; Slot preserves encounter order for pairing
// the next round's winners.
type Bracket struct {
	Round    Round                      `json:"round"`
	Matches  map[Round]map[string]Match `json:"matches"`
	Champion string                     `json:"champion,omitempty"`
}

// shuffleIDs is swapped out in tests for a deterministic order.
var shuffleIDs = func(ids []string) {
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// newBracket pairs a shuffled roster into the first round. Only 4 or 8
// participants pair evenly through every round, anything else is rejected
// at start time.
func newBracket(playerIDs []string, now int64) (*Bracket, error) {
	if len(playerIDs) != 4 && len(playerIDs) != 8 {
		return nil, ErrBadBracketSize
	}
	ids := make([]string, len(playerIDs))
	copy(ids, playerIDs)
	sort.Strings(ids) // map order is random; fix it before the fair shuffle
	shuffleIDs(ids)

	b := &Bracket{
		Round:   RoundBracket,
		Matches: map[Round]map[string]Match{},
	}
	b.Matches[RoundBracket] = makeMatches(ids, now)
	return b, nil
}

func makeMatches(ids []string, now int64) map[string]Match {
	out := make(map[string]Match, len(ids)/2)
	for slot := 0; slot*2 < len(ids); slot++ {
		a, b := ids[slot*2], ids[slot*2+1]
		m := Match{
			ID:       uuid.NewString(),
			Slot:     slot,
			Players:  [2]string{a, b},
			Scores:   map[string]int{a: 0, b: 0},
			Streaks:  map[string]int{a: 0, b: 0},
			Answered: map[string]int{a: 0, b: 0},
			Status:   StatusPlaying,
			Progress: NewProgress(0, now),
		}
		out[m.ID] = m
	}
	return out
}

// nextRound names the round that follows one with the given match count.
func nextRound(matches int) (Round, bool) {
	switch matches {
	case 4:
		return RoundSemifinals, true
	case 2:
		return RoundFinal, true
	default:
		return "", false
	}
}

// CurrentMatches returns the current round's matches in encounter order.
func (b *Bracket) CurrentMatches() []Match {
	ms := make([]Match, 0, len(b.Matches[b.Round]))
	for _, m := range b.Matches[b.Round] {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Slot < ms[j].Slot })
	return ms
}

func (b *Bracket) roundComplete() bool {
	for _, m := range b.Matches[b.Round] {
		if m.Status != StatusFinished {
			return false
		}
	}
	return len(b.Matches[b.Round]) > 0
}

// winners lists the current round's winners in encounter order.
func (b *Bracket) winners() []string {
	var out []string
	for _, m := range b.CurrentMatches() {
		out = append(out, m.Winner)
	}
	return out
}

// MatchFor finds the player's match in the current round. A player belongs
// to at most one match per round.
func (b *Bracket) MatchFor(playerID string) (Match, bool) {
	for _, m := range b.Matches[b.Round] {
		if m.has(playerID) {
			return m, true
		}
	}
	return Match{}, false
}

func (b Bracket) clone() Bracket {
	out := b
	out.Matches = make(map[Round]map[string]Match, len(b.Matches))
	for round, ms := range b.Matches {
		cp := make(map[string]Match, len(ms))
		for id, m := range ms {
			mc := m
			mc.Scores = copyInts(m.Scores)
			mc.Streaks = copyInts(m.Streaks)
			mc.Answered = copyInts(m.Answered)
			cp[id] = mc
		}
		out.Matches[round] = cp
	}
	return out
}

func copyInts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
