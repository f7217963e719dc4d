package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jambcbt/battle-backend/internal/battle"
)

func playingMatch(a, b string) battle.Match {
	return battle.Match{
		ID:       "m-" + a + b,
		Players:  [2]string{a, b},
		Scores:   map[string]int{a: 0, b: 0},
		Streaks:  map[string]int{a: 0, b: 0},
		Answered: map[string]int{a: 0, b: 0},
		Status:   battle.StatusPlaying,
		Progress: battle.NewProgress(0, 0),
	}
}

func TestDeriveScreen(t *testing.T) {
	liveMatch := playingMatch("a", "b")
	doneMatch := playingMatch("c", "d")
	doneMatch.Status = battle.StatusFinished
	doneMatch.Winner = "c"

	tourney := &battle.Bracket{
		Round: battle.RoundBracket,
		Matches: map[battle.Round]map[string]battle.Match{
			battle.RoundBracket: {liveMatch.ID: liveMatch, doneMatch.ID: doneMatch},
		},
	}

	tests := []struct {
		name     string
		room     battle.Room
		playerID string
		want     Screen
	}{
		{"waiting room", battle.Room{Status: battle.StatusWaiting}, "a", ScreenWaiting},
		{"zero room before first observation", battle.Room{}, "a", ScreenWaiting},
		{"finished room", battle.Room{Status: battle.StatusFinished}, "a", ScreenFinished},
		{"casual playing", battle.Room{Status: battle.StatusPlaying, Mode: battle.ModeCasual}, "a", ScreenPlaying},
		{
			"tournament player in live match",
			battle.Room{Status: battle.StatusPlaying, Mode: battle.ModeTournament, Tournament: tourney},
			"a", ScreenPlaying,
		},
		{
			"tournament player whose match finished",
			battle.Room{Status: battle.StatusPlaying, Mode: battle.ModeTournament, Tournament: tourney},
			"c", ScreenBracket,
		},
		{
			"tournament spectator",
			battle.Room{Status: battle.StatusPlaying, Mode: battle.ModeTournament, Tournament: tourney},
			"", ScreenBracket,
		},
		{
			"eliminated player",
			battle.Room{Status: battle.StatusPlaying, Mode: battle.ModeTournament, Tournament: tourney},
			"zz", ScreenBracket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, deriveScreen(tt.room, tt.playerID))
		})
	}
}

func TestStandingsOrder(t *testing.T) {
	r := battle.Room{Players: map[string]battle.Player{
		"a": {Name: "Ada", Score: 5, Streak: 1},
		"b": {Name: "Bob", Score: 9},
		"c": {Name: "Cy", Score: 5, Streak: 2},
		"d": {Name: "Dee", Score: 5, Streak: 1},
	}}

	got := standings(r)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	// Score desc, then streak desc, then id asc.
	require.Equal(t, []string{"b", "c", "a", "d"}, ids)
}

func TestSnapshotReactionWindow(t *testing.T) {
	now := int64(100_000)
	r := battle.Room{
		Status: battle.StatusWaiting,
		Players: map[string]battle.Player{
			"a": {Name: "Ada"},
		},
		Reactions: map[string]battle.OverlayEntry{
			"fresh": {Emoji: "🔥", Name: "Ada", Time: now - 500},
			"edge":  {Emoji: "🎉", Name: "Ada", Time: now - ReactionWindow.Milliseconds()},
			"stale": {Emoji: "💀", Name: "Ada", Time: now - 5_000},
		},
	}

	snap := buildSnapshot("AB12C", r, "a", now)
	require.Len(t, snap.Reactions, 2)
	require.Equal(t, "🎉", snap.Reactions[0].Emoji, "oldest visible first")
	require.Equal(t, "🔥", snap.Reactions[1].Emoji)
}

func TestSnapshotChatTail(t *testing.T) {
	chat := make(map[string]battle.OverlayEntry)
	for i := 0; i < ChatLimit+7; i++ {
		chat[string(rune('a'+i%26))+string(rune('0'+i/26))] = battle.OverlayEntry{
			Text: "msg", Name: "Ada", Time: int64(i + 1),
		}
	}
	r := battle.Room{Status: battle.StatusWaiting, Chat: chat}

	snap := buildSnapshot("AB12C", r, "a", 1_000)
	require.Len(t, snap.Chat, ChatLimit)
	require.Equal(t, int64(8), snap.Chat[0].Time, "oldest seven dropped")
	require.Equal(t, int64(ChatLimit+7), snap.Chat[len(snap.Chat)-1].Time)
}

func TestSnapshotPlayingCarriesQuestionAndClock(t *testing.T) {
	now := int64(50_000)
	r := battle.Room{
		Status: battle.StatusPlaying,
		Mode:   battle.ModeCasual,
		Questions: []battle.Question{
			{ID: 1, Prompt: "2+2?", Options: map[string]string{"a": "4", "b": "5"}, Answer: "a"},
			{ID: 2, Prompt: "3+3?", Options: map[string]string{"a": "6", "b": "7"}, Answer: "a"},
		},
		Progress: battle.Progress{Index: 1, Deadline: now + 7_400},
		Players:  map[string]battle.Player{"a": {Name: "Ada"}},
	}

	snap := buildSnapshot("AB12C", r, "a", now)
	require.Equal(t, ScreenPlaying, snap.Screen)
	require.NotNil(t, snap.Question)
	require.Equal(t, 2, snap.Question.ID)
	require.Equal(t, 8, snap.Remaining, "deadline rounds up to whole seconds")
}
