package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jambcbt/battle-backend/internal/battle"
	"github.com/jambcbt/battle-backend/internal/store"
)

const (
	tickInterval      = 500 * time.Millisecond
	heartbeatInterval = 5 * time.Second
	forfeitAfter      = 30 * time.Second

	// Reactions are invisible long before this; posters garbage-collect
	// anything this stale when they post.
	reactionRetention = 10 * ReactionWindow
)

// nowMillis is swapped out in tests for a controlled clock.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

type msg interface{ isSessionMsg() }

type storeChanged struct{ ev store.Event }

type tick struct{}

type command struct {
	cmd   battle.Command
	reply chan error
}

type overlayPost struct {
	kind  string
	entry battle.OverlayEntry
	reply chan error
}

type getView struct{ reply chan Snapshot }

func (storeChanged) isSessionMsg() {}
func (tick) isSessionMsg()         {}
func (command) isSessionMsg()      {}
func (overlayPost) isSessionMsg()  {}
func (getView) isSessionMsg()      {}

// Session reconciles one client against one room. A single goroutine owns
// the observed room copy; store notifications, the ticker and the public
// methods all reach it through the inbox. The observed copy is only ever
// replaced by store notifications - commands push writes and then wait for
// their own change to come back around, like everyone else's.
type Session struct {
	st        store.Store
	log       *slog.Logger
	code      string
	playerID  string
	spectator bool

	room     battle.Room
	have     bool
	lastBeat int64

	inbox     chan msg
	snapshots chan Snapshot
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSession(parent context.Context, st store.Store, log *slog.Logger, code, playerID string, spectator bool) (*Session, error) {
	ctx, cancel := context.WithCancel(parent)
	events, unsub, err := st.Subscribe(ctx, code)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		st:        st,
		log:       log.With("room", code, "player", playerID),
		code:      code,
		playerID:  playerID,
		spectator: spectator,
		inbox:     make(chan msg, 64),
		snapshots: make(chan Snapshot, 16),
		unsub:     unsub,
		ctx:       ctx,
		cancel:    cancel,
	}

	go s.pump(events)
	go s.ticker()
	go s.loop()
	return s, nil
}

// Snapshots delivers a freshly derived view after every observed change
// and on timer ticks while a question clock is running. Slow consumers
// lose old snapshots, never current ones.
func (s *Session) Snapshots() <-chan Snapshot { return s.snapshots }

func (s *Session) Start() error {
	return s.do(battle.Command{Type: battle.CmdStart})
}

func (s *Session) SubmitAnswer(option string) error {
	return s.do(battle.Command{Type: battle.CmdSubmitAnswer, Option: option})
}

func (s *Session) Rematch(questions []battle.Question) error {
	return s.do(battle.Command{Type: battle.CmdRematch, Questions: questions})
}

// Leave deletes only this player's own records; everything in flight
// stays as written.
func (s *Session) Leave() error {
	return s.do(battle.Command{Type: battle.CmdLeave})
}

func (s *Session) React(emoji string) error {
	return s.post("reactions", battle.OverlayEntry{Emoji: emoji})
}

func (s *Session) SendChat(text string) error {
	return s.post("chat", battle.OverlayEntry{Text: text})
}

// View returns the current derived snapshot without waiting for a change.
func (s *Session) View() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- getView{reply: reply}:
	case <-s.ctx.Done():
		return Snapshot{Code: s.code}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.ctx.Done():
		return Snapshot{Code: s.code}
	}
}

func (s *Session) Close() {
	s.cancel()
}

func (s *Session) do(cmd battle.Command) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- command{cmd: cmd, reply: reply}:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) post(kind string, entry battle.OverlayEntry) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- overlayPost{kind: kind, entry: entry, reply: reply}:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Session) pump(events <-chan store.Event) {
	for ev := range events {
		select {
		case s.inbox <- storeChanged{ev: ev}:
		case <-s.ctx.Done():
			return
		}
	}
	// The store closed our feed (dropped subscriber or shutdown). A stale
	// session is worse than a dead one: stop and let the client re-attach.
	s.cancel()
}

func (s *Session) ticker() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			select {
			case s.inbox <- tick{}:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) loop() {
	defer func() {
		s.unsub()
		close(s.snapshots)
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			switch m := m.(type) {
			case storeChanged:
				s.handleChange(m.ev)
			case tick:
				s.handleTick()
			case command:
				m.reply <- s.handleCommand(m.cmd)
			case overlayPost:
				m.reply <- s.handlePost(m.kind, m.entry)
			case getView:
				m.reply <- buildSnapshot(s.code, s.room, s.playerID, nowMillis())
			}
		}
	}
}

func (s *Session) handleChange(ev store.Event) {
	if ev.Value == nil {
		// Room was deleted out from under us.
		s.have = false
		s.room = battle.Room{}
		s.emit()
		return
	}
	var r battle.Room
	if err := json.Unmarshal(ev.Value, &r); err != nil {
		s.log.Warn("bad room document", "err", err)
		return
	}
	s.room = r
	s.have = true
	s.emit()
}

func (s *Session) handleCommand(cmd battle.Command) error {
	if !s.have {
		return ErrRoomNotFound
	}
	cmd.PlayerID = s.playerID
	cmd.Now = nowMillis()
	if cmd.Type == battle.CmdSubmitAnswer && s.room.Mode == battle.ModeTournament && s.room.Tournament != nil {
		if m, ok := s.room.Tournament.MatchFor(s.playerID); ok {
			cmd.MatchID = m.ID
		}
	}
	events, next, err := battle.Apply(s.room, cmd)
	if err != nil {
		return err
	}
	return pushEvents(s.ctx, s.st, s.code, s.room, next, events)
}

func (s *Session) handlePost(kind string, entry battle.OverlayEntry) error {
	if !s.have {
		return ErrRoomNotFound
	}
	now := nowMillis()
	entry.Time = now
	if p, ok := s.room.Players[s.playerID]; ok {
		entry.Name = p.Name
	}

	existing := s.room.Reactions
	keep := func(e battle.OverlayEntry) bool { return now-e.Time <= reactionRetention.Milliseconds() }
	limit := 0
	if kind == "chat" {
		existing = s.room.Chat
		keep = func(battle.OverlayEntry) bool { return true }
		limit = ChatLimit
	}
	return postOverlay(s.ctx, s.st, s.code, kind, entry, existing, keep, limit)
}

func (s *Session) handleTick() {
	if !s.have {
		return
	}
	now := nowMillis()

	if !s.spectator {
		if _, in := s.room.Players[s.playerID]; in && now-s.lastBeat >= heartbeatInterval.Milliseconds() {
			s.lastBeat = now
			if err := s.st.Write(s.ctx, roomPath(s.code, "presence", s.playerID), now); err != nil {
				s.log.Warn("heartbeat write failed", "err", err)
			}
		}
	}

	if s.room.Status != battle.StatusPlaying {
		return
	}
	s.advanceExpired(now)
	if !s.spectator && s.sweeper(now) {
		s.sweepStalled(now)
	}
	// The countdown lives in the deadline, so ticks re-derive the view.
	s.emit()
}

// advanceExpired attempts the deadline advance any observer may attempt.
// The compare-and-swap on the observed progress collapses concurrent
// attempts to exactly one.
func (s *Session) advanceExpired(now int64) {
	if s.room.Mode != battle.ModeTournament {
		if s.room.Progress.Expired(now) {
			s.attempt(battle.Command{Type: battle.CmdAdvance, Expected: s.room.Progress, Now: now})
		}
		return
	}
	if s.room.Tournament == nil {
		return
	}
	// Seal pass: a round whose matches were finished by different
	// observers may be complete with no next round generated yet.
	s.attempt(battle.Command{Type: battle.CmdAdvance, Now: now})
	m, ok := s.room.Tournament.MatchFor(s.playerID)
	if !ok || m.Status != battle.StatusPlaying {
		return
	}
	if m.Progress.Expired(now) {
		s.attempt(battle.Command{Type: battle.CmdAdvance, MatchID: m.ID, Expected: m.Progress, Now: now})
	}
	// The surviving participant records the forfeit; no third party is
	// needed while one player of the match is still here.
	if opp := m.Opponent(s.playerID); s.staleFor(opp, now) {
		s.attempt(battle.Command{Type: battle.CmdForfeit, Target: opp, Now: now})
	}
}

// sweeper reports whether this session holds round-wide sweep duty: the
// lexicographically first seated player with a fresh heartbeat. The host
// carries no special role, so a vanished host never strands the sweep.
// When no heartbeat looks fresh (right after a long suspend) any live
// session may step in; the swaps collapse duplicates.
func (s *Session) sweeper(now int64) bool {
	if _, in := s.room.Players[s.playerID]; !in {
		return false
	}
	best := ""
	for id := range s.room.Players {
		if s.staleFor(id, now) {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best == "" || best == s.playerID
}

// staleFor reports whether a player's last sign of life is beyond the
// forfeit window. A player with no heartbeat yet falls back to join time.
func (s *Session) staleFor(pid string, now int64) bool {
	last := s.room.Presence[pid]
	if last == 0 {
		last = s.room.Players[pid].JoinedAt
	}
	return last > 0 && now-last > forfeitAfter.Milliseconds()
}

// sweepStalled advances abandoned matches and forfeits their silent
// players, covering matches where neither participant is left to act.
func (s *Session) sweepStalled(now int64) {
	if s.room.Mode != battle.ModeTournament || s.room.Tournament == nil {
		return
	}
	for _, m := range s.room.Tournament.CurrentMatches() {
		if m.Status != battle.StatusPlaying {
			continue
		}
		if m.Progress.Expired(now) {
			s.attempt(battle.Command{Type: battle.CmdAdvance, MatchID: m.ID, Expected: m.Progress, Now: now})
		}
		for _, pid := range m.Players {
			if s.staleFor(pid, now) {
				s.attempt(battle.Command{Type: battle.CmdForfeit, Target: pid, Now: now})
			}
		}
	}
}

func (s *Session) attempt(cmd battle.Command) {
	cmd.PlayerID = s.playerID
	events, next, err := battle.Apply(s.room, cmd)
	if err != nil {
		s.log.Warn("timer action rejected", "cmd", string(cmd.Type), "err", err)
		return
	}
	if err := pushEvents(s.ctx, s.st, s.code, s.room, next, events); err != nil {
		s.log.Warn("timer action failed", "cmd", string(cmd.Type), "err", err)
	}
}

func (s *Session) emit() {
	snap := buildSnapshot(s.code, s.room, s.playerID, nowMillis())
	select {
	case s.snapshots <- snap:
	default:
		// Full: drop the oldest so the consumer always catches up to now.
		select {
		case <-s.snapshots:
		default:
		}
		select {
		case s.snapshots <- snap:
		default:
		}
	}
}
