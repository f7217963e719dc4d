// Package session is the client-side half of the engine: one actor per
// connected player (or spectator) that observes the shared store, derives
// the current view purely from observed state, and issues the minimal
// store writes for the player's own actions. There is no server-side game
// logic anywhere; every client runs this same reconciliation loop.
package session

import (
	"sort"
	"time"

	"github.com/jambcbt/battle-backend/internal/battle"
)

// Screen is what the client should be showing. It is re-derived from
// scratch on every observed change, so a reconnecting client lands on the
// right screen without any local history.
type Screen string

const (
	ScreenWaiting  Screen = "waiting"
	ScreenBracket  Screen = "bracket"
	ScreenPlaying  Screen = "playing"
	ScreenFinished Screen = "finished"
)

// ReactionWindow is how long a reaction stays visible. Entries are
// filtered by age on read; posters prune long-stale keys on write.
const ReactionWindow = 2 * time.Second

// ChatLimit caps the chat overlay to the most recent messages.
const ChatLimit = 50

type Standing struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Streak   int    `json:"streak"`
	Answered int    `json:"answered"`
	Wins     int    `json:"wins,omitempty"`
}

// Snapshot is one fully derived view of the room for one player. Nothing
// in it is accumulated locally; it is a function of (room, playerID, now).
type Snapshot struct {
	Screen    Screen
	Code      string
	Room      battle.Room
	Match     *battle.Match
	Question  *battle.Question
	Remaining int
	Standings []Standing
	Reactions []battle.OverlayEntry
	Chat      []battle.OverlayEntry
}

// deriveScreen maps observed state to a screen. During a tournament a
// player with no live match (eliminated, waiting for the next round, or a
// spectator) watches the bracket.
func deriveScreen(r battle.Room, playerID string) Screen {
	switch r.Status {
	case battle.StatusFinished:
		return ScreenFinished
	case battle.StatusPlaying:
		if r.Mode == battle.ModeTournament {
			if r.Tournament == nil {
				return ScreenBracket
			}
			m, ok := r.Tournament.MatchFor(playerID)
			if !ok || m.Status != battle.StatusPlaying {
				return ScreenBracket
			}
		}
		return ScreenPlaying
	default:
		return ScreenWaiting
	}
}

func buildSnapshot(code string, r battle.Room, playerID string, now int64) Snapshot {
	snap := Snapshot{
		Screen:    deriveScreen(r, playerID),
		Code:      code,
		Room:      r,
		Standings: standings(r),
		Reactions: overlayWindow(r.Reactions, now-ReactionWindow.Milliseconds()),
		Chat:      overlayTail(r.Chat, ChatLimit),
	}

	if snap.Screen != ScreenPlaying {
		return snap
	}

	progress := r.Progress
	if r.Mode == battle.ModeTournament {
		m, ok := r.Tournament.MatchFor(playerID)
		if ok {
			snap.Match = &m
			progress = m.Progress
		}
	}
	if progress.Index < len(r.Questions) {
		q := r.Questions[progress.Index]
		snap.Question = &q
	}
	snap.Remaining = battle.RemainingSeconds(progress.Deadline, now)
	return snap
}

// standings orders players by score, then streak, then id. The same chain
// the bracket uses to pick a match winner, so the scoreboard never
// disagrees with the bracket.
func standings(r battle.Room) []Standing {
	out := make([]Standing, 0, len(r.Players))
	for id, p := range r.Players {
		out = append(out, Standing{
			ID:       id,
			Name:     p.Name,
			Score:    p.Score,
			Streak:   p.Streak,
			Answered: p.Answered,
			Wins:     p.Wins,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Streak != b.Streak {
			return a.Streak > b.Streak
		}
		return a.ID < b.ID
	})
	return out
}

// overlayWindow keeps entries at or after cutoff, oldest first.
func overlayWindow(entries map[string]battle.OverlayEntry, cutoff int64) []battle.OverlayEntry {
	var out []battle.OverlayEntry
	for _, e := range entries {
		if e.Time >= cutoff {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// overlayTail keeps the most recent limit entries, oldest first.
func overlayTail(entries map[string]battle.OverlayEntry, limit int) []battle.OverlayEntry {
	out := overlayWindow(entries, 0)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
