package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jambcbt/battle-backend/internal/battle"
	"github.com/jambcbt/battle-backend/internal/store"
)

func roomPath(code string, parts ...string) string {
	return strings.Join(append([]string{code}, parts...), "/")
}

// pushEvents turns the events of one applied command into store operations.
// Each write is scoped to the smallest sub-path that changed so concurrent
// writes to sibling fields never clobber each other, and every
// read-then-write transition goes through CompareAndSwap keyed on the
// observed prior value. Losing a swap is not an error: some other client
// performed the same transition first.
func pushEvents(ctx context.Context, st store.Store, code string, prev, next battle.Room, events []battle.Event) error {
	// A lost match-finish swap means another client owns the cascade that
	// follows it (round generation, champion, game end).
	cascade := true
	started := false

	for _, ev := range events {
		switch ev.Type {
		case battle.EvtPlayerJoined:
			if err := st.Write(ctx, roomPath(code, "players", ev.PlayerID), next.Players[ev.PlayerID]); err != nil {
				return fmt.Errorf("join room: %w", err)
			}

		case battle.EvtPlayerLeft:
			if err := st.Delete(ctx, roomPath(code, "players", ev.PlayerID)); err != nil {
				return fmt.Errorf("leave room: %w", err)
			}
			if err := st.Delete(ctx, roomPath(code, "presence", ev.PlayerID)); err != nil {
				return fmt.Errorf("leave room: %w", err)
			}

		case battle.EvtGameStarted:
			ok, err := st.CompareAndSwap(ctx, roomPath(code, "status"), battle.StatusWaiting, battle.StatusPlaying)
			if err != nil {
				return fmt.Errorf("start game: %w", err)
			}
			if !ok {
				return nil
			}
			started = true
			if err := st.Write(ctx, roomPath(code, "progress"), next.Progress); err != nil {
				return fmt.Errorf("start game: %w", err)
			}
			if next.Tournament != nil {
				if err := st.Write(ctx, roomPath(code, "tournament"), next.Tournament); err != nil {
					return fmt.Errorf("start game: %w", err)
				}
			}

		case battle.EvtScoreApplied:
			if err := st.Write(ctx, roomPath(code, "players", ev.PlayerID), next.Players[ev.PlayerID]); err != nil {
				return fmt.Errorf("record answer: %w", err)
			}
			if ev.MatchID != "" {
				m := next.Tournament.Matches[next.Tournament.Round][ev.MatchID]
				base := roomPath(code, "tournament", "matches", string(next.Tournament.Round), ev.MatchID)
				if err := st.Write(ctx, base+"/scores/"+ev.PlayerID, m.Scores[ev.PlayerID]); err != nil {
					return fmt.Errorf("record answer: %w", err)
				}
				if err := st.Write(ctx, base+"/streaks/"+ev.PlayerID, m.Streaks[ev.PlayerID]); err != nil {
					return fmt.Errorf("record answer: %w", err)
				}
				if err := st.Write(ctx, base+"/answered/"+ev.PlayerID, m.Answered[ev.PlayerID]); err != nil {
					return fmt.Errorf("record answer: %w", err)
				}
			}

		case battle.EvtStreakAlert:
			// Presentation only; observers derive it from the streak value.

		case battle.EvtQuestionAdvanced:
			if ev.MatchID == "" {
				if _, err := st.CompareAndSwap(ctx, roomPath(code, "progress"), prev.Progress, next.Progress); err != nil {
					return fmt.Errorf("advance question: %w", err)
				}
				continue
			}
			round := string(prev.Tournament.Round)
			pm := prev.Tournament.Matches[prev.Tournament.Round][ev.MatchID]
			nm := next.Tournament.Matches[next.Tournament.Round][ev.MatchID]
			p := roomPath(code, "tournament", "matches", round, ev.MatchID, "progress")
			if _, err := st.CompareAndSwap(ctx, p, pm.Progress, nm.Progress); err != nil {
				return fmt.Errorf("advance question: %w", err)
			}

		case battle.EvtMatchFinished:
			// The winner is derived from the scores this observer read, so
			// the swap is keyed on the whole match document, scores
			// included. A rival's last-second answer that landed since makes
			// it fail; the next tick re-derives the winner from the fresher
			// copy.
			pm := prev.Tournament.Matches[ev.Round][ev.MatchID]
			nm := next.Tournament.Matches[ev.Round][ev.MatchID]
			p := roomPath(code, "tournament", "matches", string(ev.Round), ev.MatchID)
			ok, err := st.CompareAndSwap(ctx, p, pm, nm)
			if err != nil {
				return fmt.Errorf("finish match: %w", err)
			}
			if !ok {
				cascade = false
				continue
			}
			if pl, found := next.Players[ev.PlayerID]; found {
				if err := st.Write(ctx, roomPath(code, "players", ev.PlayerID, "wins"), pl.Wins); err != nil {
					return fmt.Errorf("finish match: %w", err)
				}
			}

		case battle.EvtRoundGenerated:
			if started || !cascade {
				// Either already part of the whole-bracket start write, or
				// another client owns this round's generation.
				continue
			}
			p := roomPath(code, "tournament", "matches", string(ev.Round))
			if _, err := st.CompareAndSwap(ctx, p, nil, next.Tournament.Matches[ev.Round]); err != nil {
				return fmt.Errorf("generate round: %w", err)
			}
			if err := st.Write(ctx, roomPath(code, "tournament", "round"), ev.Round); err != nil {
				return fmt.Errorf("generate round: %w", err)
			}

		case battle.EvtChampionDecided:
			if !cascade {
				continue
			}
			if err := st.Write(ctx, roomPath(code, "tournament", "champion"), ev.PlayerID); err != nil {
				return fmt.Errorf("decide champion: %w", err)
			}

		case battle.EvtGameFinished:
			if !cascade {
				continue
			}
			if _, err := st.CompareAndSwap(ctx, roomPath(code, "status"), battle.StatusPlaying, battle.StatusFinished); err != nil {
				return fmt.Errorf("finish game: %w", err)
			}

		case battle.EvtRematchStarted:
			ok, err := st.CompareAndSwap(ctx, roomPath(code, "status"), battle.StatusFinished, battle.StatusWaiting)
			if err != nil {
				return fmt.Errorf("rematch: %w", err)
			}
			if !ok {
				return nil
			}
			if err := st.Write(ctx, roomPath(code, "progress"), next.Progress); err != nil {
				return fmt.Errorf("rematch: %w", err)
			}
			for _, p := range []string{"tournament", "reactions", "chat"} {
				if err := st.Delete(ctx, roomPath(code, p)); err != nil {
					return fmt.Errorf("rematch: %w", err)
				}
			}
			for id, p := range next.Players {
				if err := st.Write(ctx, roomPath(code, "players", id), p); err != nil {
					return fmt.Errorf("rematch: %w", err)
				}
			}
			if err := st.Write(ctx, roomPath(code, "questions"), next.Questions); err != nil {
				return fmt.Errorf("rematch: %w", err)
			}
		}
	}
	return nil
}

// postOverlay appends one uniquely keyed entry and prunes whatever the
// poster can already see is stale. keep reports whether an existing entry
// should survive; n caps how many survivors are retained (0 for no cap).
func postOverlay(ctx context.Context, st store.Store, code, kind string, entry battle.OverlayEntry, existing map[string]battle.OverlayEntry, keep func(battle.OverlayEntry) bool, n int) error {
	if err := st.Write(ctx, roomPath(code, kind, uuid.NewString()), entry); err != nil {
		return fmt.Errorf("post %s: %w", kind, err)
	}

	type keyed struct {
		key string
		e   battle.OverlayEntry
	}
	var live []keyed
	for k, e := range existing {
		if !keep(e) {
			if err := st.Delete(ctx, roomPath(code, kind, k)); err != nil {
				return fmt.Errorf("prune %s: %w", kind, err)
			}
			continue
		}
		live = append(live, keyed{k, e})
	}
	if n <= 0 || len(live) < n {
		return nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].e.Time < live[j].e.Time })
	for _, kv := range live[:len(live)-n+1] {
		if err := st.Delete(ctx, roomPath(code, kind, kv.key)); err != nil {
			return fmt.Errorf("prune %s: %w", kind, err)
		}
	}
	return nil
}
