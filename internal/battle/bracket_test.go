package battle

import (
	"errors"
	"sort"
	"testing"
)

// freezeShuffle pins the bracket shuffle to sorted order for the test.
func freezeShuffle(t *testing.T) {
	t.Helper()
	old := shuffleIDs
	shuffleIDs = func(ids []string) { sort.Strings(ids) }
	t.Cleanup(func() { shuffleIDs = old })
}

func startTournament(t *testing.T, playerIDs ...string) Room {
	t.Helper()
	freezeShuffle(t)
	r := testRoom(ModeTournament, playerIDs...)
	_, r = mustApply(t, r, Command{Type: CmdStart, PlayerID: playerIDs[0], Now: 0})
	return r
}

// playMatch answers every question for both players and drives the match
// clock to expiry. winner is made to answer correctly, the loser wrongly.
func playMatch(t *testing.T, r Room, m Match, winner string, now int64) (Room, int64) {
	t.Helper()
	loser := m.Opponent(winner)
	for {
		cur := r.Tournament.Matches[r.Tournament.Round][m.ID]
		if cur.Status != StatusPlaying {
			return r, now
		}
		_, r = mustApply(t, r, Command{Type: CmdSubmitAnswer, PlayerID: winner, MatchID: m.ID, Option: "a", Now: now + 1000})
		_, r = mustApply(t, r, Command{Type: CmdSubmitAnswer, PlayerID: loser, MatchID: m.ID, Option: "b", Now: now + 1000})
		now += QuestionDuration.Milliseconds() + 1000
		_, r = mustApply(t, r, Command{Type: CmdAdvance, MatchID: m.ID, Expected: cur.Progress, Now: now})
	}
}

func TestBracketShapeFourPlayers(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")
	b := r.Tournament
	if b == nil {
		t.Fatalf("tournament room must carry a bracket")
	}
	if b.Round != RoundBracket {
		t.Fatalf("round: got %s", b.Round)
	}
	if got := len(b.Matches[RoundBracket]); got != 2 {
		t.Fatalf("first round matches: got %d, want 2", got)
	}
	for _, m := range b.CurrentMatches() {
		if m.Status != StatusPlaying {
			t.Fatalf("matches start playing, got %s", m.Status)
		}
		if len(m.Scores) != 2 {
			t.Fatalf("match must have exactly two participants: %#v", m)
		}
	}
}

func TestBracketShapeEightPlayers(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d", "e", "f", "g", "h")
	if got := len(r.Tournament.Matches[RoundBracket]); got != 4 {
		t.Fatalf("first round matches: got %d, want 4", got)
	}
}

func TestEachPlayerInExactlyOneMatch(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d", "e", "f", "g", "h")
	seen := map[string]int{}
	for _, m := range r.Tournament.CurrentMatches() {
		seen[m.Players[0]]++
		seen[m.Players[1]]++
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 distinct participants, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("player %s in %d matches", id, n)
		}
	}
}

func TestFourPlayerTournamentRunsToChampion(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")
	now := int64(0)

	for _, m := range r.Tournament.CurrentMatches() {
		r, now = playMatch(t, r, m, m.Players[0], now)
	}

	// Round 1 winners feed the final directly; no semifinal layer with 4.
	if _, ok := r.Tournament.Matches[RoundSemifinals]; ok {
		t.Fatalf("4-player bracket must not have semifinals")
	}
	if r.Tournament.Round != RoundFinal {
		t.Fatalf("round: got %s, want final", r.Tournament.Round)
	}
	final := r.Tournament.CurrentMatches()
	if len(final) != 1 {
		t.Fatalf("final matches: got %d", len(final))
	}

	r, _ = playMatch(t, r, final[0], final[0].Players[0], now)
	if r.Tournament.Champion == "" {
		t.Fatalf("champion not set")
	}
	if r.Status != StatusFinished {
		t.Fatalf("room status: got %s", r.Status)
	}
	if r.Players[r.Tournament.Champion].Wins != 2 {
		t.Fatalf("champion wins: got %d, want 2", r.Players[r.Tournament.Champion].Wins)
	}
}

func TestEightPlayerTournamentRunsToChampion(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d", "e", "f", "g", "h")
	now := int64(0)

	rounds := []Round{RoundBracket, RoundSemifinals, RoundFinal}
	wantMatches := []int{4, 2, 1}
	for i, round := range rounds {
		if r.Tournament.Round != round {
			t.Fatalf("expected round %s, got %s", round, r.Tournament.Round)
		}
		ms := r.Tournament.CurrentMatches()
		if len(ms) != wantMatches[i] {
			t.Fatalf("round %s: got %d matches, want %d", round, len(ms), wantMatches[i])
		}
		for _, m := range ms {
			r, now = playMatch(t, r, m, m.Players[0], now)
		}
	}

	if r.Tournament.Champion != "a" {
		t.Fatalf("champion: got %q, want a", r.Tournament.Champion)
	}
	if r.Status != StatusFinished {
		t.Fatalf("room status: got %s", r.Status)
	}
	// No round generated twice.
	if len(r.Tournament.Matches) != 3 {
		t.Fatalf("rounds recorded: got %d, want 3", len(r.Tournament.Matches))
	}
}

func TestMatchAdvanceIsIdempotent(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")
	m := r.Tournament.CurrentMatches()[0]
	expected := m.Progress

	_, r = mustApply(t, r, Command{Type: CmdAdvance, MatchID: m.ID, Expected: expected, Now: 16000})
	got := r.Tournament.Matches[RoundBracket][m.ID]
	if got.Progress.Index != 1 {
		t.Fatalf("first advance: index=%d", got.Progress.Index)
	}

	events, r := mustApply(t, r, Command{Type: CmdAdvance, MatchID: m.ID, Expected: expected, Now: 16100})
	if len(events) != 0 {
		t.Fatalf("stale match advance must be a no-op, got %v", events)
	}
	if r.Tournament.Matches[RoundBracket][m.ID].Progress.Index != 1 {
		t.Fatalf("index moved twice")
	}
}

func TestConcurrentLastMatchCompletionGeneratesRoundOnce(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")
	ms := r.Tournament.CurrentMatches()
	now := int64(0)
	r, now = playMatch(t, r, ms[0], ms[0].Players[0], now)

	// Drive the second match to its last question, then fire the finishing
	// advance twice with the same expected progress.
	r, now = playMatch(t, r, ms[1], ms[1].Players[0], now)
	events, r := mustApply(t, r, Command{Type: CmdAdvance, MatchID: ms[1].ID, Expected: ms[1].Progress, Now: now})
	if len(events) != 0 {
		t.Fatalf("re-finishing a finished match must be a no-op, got %v", events)
	}
	if got := len(r.Tournament.Matches[RoundFinal]); got != 1 {
		t.Fatalf("final generated %d times", got)
	}
}

func TestMatchWinnerTieBreaks(t *testing.T) {
	cases := []struct {
		name  string
		match Match
		want  string
	}{
		{
			name:  "higher score wins",
			match: Match{Players: [2]string{"a", "b"}, Scores: map[string]int{"a": 3, "b": 9}, Streaks: map[string]int{"a": 0, "b": 0}},
			want:  "b",
		},
		{
			name:  "equal score falls to streak",
			match: Match{Players: [2]string{"a", "b"}, Scores: map[string]int{"a": 9, "b": 9}, Streaks: map[string]int{"a": 1, "b": 4}},
			want:  "b",
		},
		{
			name:  "full tie falls to smaller id",
			match: Match{Players: [2]string{"b", "a"}, Scores: map[string]int{"a": 9, "b": 9}, Streaks: map[string]int{"a": 2, "b": 2}},
			want:  "a",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.match.winner(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestForfeitAwardsOpponent(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")
	m, ok := r.Tournament.MatchFor("a")
	if !ok {
		t.Fatalf("no match for a")
	}
	opp := m.Opponent("a")

	events, r := mustApply(t, r, Command{Type: CmdForfeit, Target: "a", Now: 5000})
	if !containsEvent(events, EvtMatchFinished) {
		t.Fatalf("expected MatchFinished, got %v", events)
	}
	got := r.Tournament.Matches[RoundBracket][m.ID]
	if got.Status != StatusFinished || got.Winner != opp {
		t.Fatalf("forfeit result: %#v", got)
	}

	// Forfeiting again is harmless.
	events2, _, err := Apply(r, Command{Type: CmdForfeit, Target: "a", Now: 6000})
	if err != nil || len(events2) != 0 {
		t.Fatalf("second forfeit: events=%v err=%v", events2, err)
	}
}

func TestNewBracketRejectsOddCounts(t *testing.T) {
	for _, n := range []int{2, 3, 5, 6, 7, 9} {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		if _, err := newBracket(ids, 0); !errors.Is(err, ErrBadBracketSize) {
			t.Fatalf("n=%d: got %v, want ErrBadBracketSize", n, err)
		}
	}
}

func TestSealCompletesRoundFinishedByIndependentObservers(t *testing.T) {
	r := startTournament(t, "a", "b", "c", "d")

	// Two observers each finished one match without seeing the other
	// complete, so neither generated the final.
	for id, m := range r.Tournament.Matches[RoundBracket] {
		m.Status = StatusFinished
		m.Winner = m.Players[0]
		r.Tournament.Matches[RoundBracket][id] = m
	}

	events, r := mustApply(t, r, Command{Type: CmdAdvance, Now: 99_000})
	if !containsEvent(events, EvtRoundGenerated) {
		t.Fatalf("seal must generate the missing round, got %v", events)
	}
	if r.Tournament.Round != RoundFinal {
		t.Fatalf("round pointer: got %s", r.Tournament.Round)
	}
	if got := len(r.Tournament.Matches[RoundFinal]); got != 1 {
		t.Fatalf("final matches: got %d, want 1", got)
	}

	events, r = mustApply(t, r, Command{Type: CmdAdvance, Now: 99_500})
	if len(events) != 0 {
		t.Fatalf("sealing an already sealed round must be a no-op, got %v", events)
	}

	// Same recovery for the championship itself.
	final := r.Tournament.CurrentMatches()[0]
	final.Status = StatusFinished
	final.Winner = final.Players[0]
	r.Tournament.Matches[RoundFinal][final.ID] = final

	events, r = mustApply(t, r, Command{Type: CmdAdvance, Now: 100_000})
	if !containsEvent(events, EvtChampionDecided) || !containsEvent(events, EvtGameFinished) {
		t.Fatalf("seal must decide the champion, got %v", events)
	}
	if r.Tournament.Champion != final.Winner {
		t.Fatalf("champion: got %q, want %q", r.Tournament.Champion, final.Winner)
	}
	if r.Status != StatusFinished {
		t.Fatalf("status: got %s", r.Status)
	}

	events, _ = mustApply(t, r, Command{Type: CmdAdvance, Now: 100_500})
	if len(events) != 0 {
		t.Fatalf("seal after the champion is decided must be a no-op, got %v", events)
	}
}
