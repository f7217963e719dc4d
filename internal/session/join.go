package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/jambcbt/battle-backend/internal/battle"
	"github.com/jambcbt/battle-backend/internal/store"
)

var ErrRoomNotFound = errors.New("room not found")

// NewCode returns a 5-character room code. Collisions are possible but
// CreateRoom's create-if-absent swap catches them.
func NewCode() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 5)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// CreateRoom seeds a fresh room document and returns its code. The host is
// already seated; everyone else goes through Join.
func CreateRoom(ctx context.Context, st store.Store, hostID, hostName, subject string, mode battle.Mode, questions []battle.Question) (string, error) {
	room := battle.NewRoom(hostID, hostName, subject, mode, questions)
	p := room.Players[hostID]
	p.JoinedAt = nowMillis()
	room.Players[hostID] = p

	for attempt := 0; attempt < 10; attempt++ {
		code := NewCode()
		ok, err := st.CompareAndSwap(ctx, code, nil, room)
		if err != nil {
			return "", fmt.Errorf("create room: %w", err)
		}
		if ok {
			return code, nil
		}
		// Code collision; roll again.
	}
	return "", fmt.Errorf("create room: could not allocate a free code")
}

// Join seats a player. The store has no locks, so the seat is taken
// optimistically; afterwards the joiner re-reads and, while the roster is
// over capacity, evicts the newest arrivals by (JoinedAt, id) - whoever
// they are, not just itself. Any observer may perform the eviction
// (deletes are idempotent), so the capacity invariant holds even when a
// delayed seat write lands after a later rival has already been accepted.
func Join(ctx context.Context, st store.Store, code, playerID, name string) error {
	room, err := readRoom(ctx, st, code)
	if err != nil {
		return err
	}

	now := nowMillis()
	events, next, err := battle.Apply(room, battle.Command{Type: battle.CmdJoin, PlayerID: playerID, Name: name, Now: now})
	if err != nil {
		return err
	}
	if err := pushEvents(ctx, st, code, room, next, events); err != nil {
		return err
	}

	for attempt := 0; attempt < 8; attempt++ {
		room, err = readRoom(ctx, st, code)
		if err != nil {
			return err
		}
		if _, in := room.Players[playerID]; !in {
			// Another observer already evicted this seat.
			return battle.ErrRoomFull
		}
		over := len(room.Players) - room.Mode.MaxPlayers()
		if over <= 0 {
			return nil
		}
		evicted := false
		for _, id := range newestPlayers(room, over) {
			if err := st.Delete(ctx, roomPath(code, "players", id)); err != nil {
				return fmt.Errorf("revoke join: %w", err)
			}
			if err := st.Delete(ctx, roomPath(code, "presence", id)); err != nil {
				return fmt.Errorf("revoke join: %w", err)
			}
			if id == playerID {
				evicted = true
			}
		}
		if evicted {
			return battle.ErrRoomFull
		}
	}
	return fmt.Errorf("join %s: roster kept changing under the capacity check", code)
}

// newestPlayers lists the n most recent arrivals by (JoinedAt, id); every
// observer ranks the same roster the same way.
func newestPlayers(room battle.Room, n int) []string {
	ids := make([]string, 0, len(room.Players))
	for id := range room.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := room.Players[ids[i]], room.Players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	return ids[len(ids)-n:]
}

// Attach starts the reconciliation session for a seated player. Call after
// CreateRoom or Join.
func Attach(parent context.Context, st store.Store, log *slog.Logger, code, playerID string) (*Session, error) {
	if _, err := readRoom(parent, st, code); err != nil {
		return nil, err
	}
	return newSession(parent, st, log, code, playerID, false)
}

// Watch starts a read-only spectator session: it observes and derives the
// bracket view but never writes presence or takes a seat.
func Watch(parent context.Context, st store.Store, log *slog.Logger, code string) (*Session, error) {
	if _, err := readRoom(parent, st, code); err != nil {
		return nil, err
	}
	return newSession(parent, st, log, code, "", true)
}

func readRoom(ctx context.Context, st store.Store, code string) (battle.Room, error) {
	raw, err := st.Read(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return battle.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return battle.Room{}, fmt.Errorf("read room: %w", err)
	}
	var room battle.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return battle.Room{}, fmt.Errorf("read room: %w", err)
	}
	return room, nil
}
