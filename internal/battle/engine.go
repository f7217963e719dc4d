package battle

import "errors"

var ErrRoomFull = errors.New("room full")
var ErrAlreadyStarted = errors.New("game already started")
var ErrNotHost = errors.New("only the host can do that")
var ErrNotEnoughPlayers = errors.New("not enough players")
var ErrBadBracketSize = errors.New("tournament needs exactly 4 or 8 players")
var ErrNotPlaying = errors.New("game is not in progress")
var ErrNotFinished = errors.New("game is not finished")
var ErrUnknownPlayer = errors.New("player not in room")
var ErrUnknownMatch = errors.New("match not found")
var ErrNotInMatch = errors.New("player not in this match")
var ErrAlreadyAnswered = errors.New("already answered this question")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdStart        CommandType = "Start"
	CmdSubmitAnswer CommandType = "SubmitAnswer"
	CmdAdvance      CommandType = "Advance"
	CmdForfeit      CommandType = "Forfeit"
	CmdRematch      CommandType = "Rematch"
)

// Command carries everything a transition needs; Now is injected by the
// caller so Apply stays replayable.
type Command struct {
	Type      CommandType
	PlayerID  string
	Name      string
	Option    string
	MatchID   string
	Expected  Progress
	Target    string
	Questions []Question
	Now       int64
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtPlayerLeft       EventType = "PlayerLeft"
	EvtGameStarted      EventType = "GameStarted"
	EvtScoreApplied     EventType = "ScoreApplied"
	EvtStreakAlert      EventType = "StreakAlert"
	EvtQuestionAdvanced EventType = "QuestionAdvanced"
	EvtMatchFinished    EventType = "MatchFinished"
	EvtRoundGenerated   EventType = "RoundGenerated"
	EvtChampionDecided  EventType = "ChampionDecided"
	EvtGameFinished     EventType = "GameFinished"
	EvtRematchStarted   EventType = "RematchStarted"
)

type Event struct {
	Type     EventType
	PlayerID string
	MatchID  string
	Round    Round
	Points   int
	Index    int
}

// Apply runs one command against the room and returns the events, the next
// state and an error. The input room is never mutated. A stale Advance is
// not an error: it returns no events and the unchanged state, which is what
// makes concurrent deadline observers safe.
func Apply(r Room, cmd Command) ([]Event, Room, error) {
	switch cmd.Type {
	case CmdJoin:
		return applyJoin(r, cmd)
	case CmdLeave:
		return applyLeave(r, cmd)
	case CmdStart:
		return applyStart(r, cmd)
	case CmdSubmitAnswer:
		return applySubmitAnswer(r, cmd)
	case CmdAdvance:
		return applyAdvance(r, cmd)
	case CmdForfeit:
		return applyForfeit(r, cmd)
	case CmdRematch:
		return applyRematch(r, cmd)
	default:
		return nil, r, ErrUnsupportedCommand
	}
}

func applyJoin(r Room, cmd Command) ([]Event, Room, error) {
	if r.Status != StatusWaiting {
		return nil, r, ErrAlreadyStarted
	}
	if _, ok := r.Players[cmd.PlayerID]; ok {
		// Rejoining with the same id is a reconnect, not a new seat.
		return nil, r, nil
	}
	if len(r.Players) >= r.Mode.MaxPlayers() {
		return nil, r, ErrRoomFull
	}
	next := r.clone()
	next.Players[cmd.PlayerID] = Player{Name: cmd.Name, JoinedAt: cmd.Now}
	return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID}}, next, nil
}

func applyLeave(r Room, cmd Command) ([]Event, Room, error) {
	if _, ok := r.Players[cmd.PlayerID]; !ok {
		return nil, r, nil
	}
	next := r.clone()
	delete(next.Players, cmd.PlayerID)
	delete(next.Presence, cmd.PlayerID)
	return []Event{{Type: EvtPlayerLeft, PlayerID: cmd.PlayerID}}, next, nil
}

func applyStart(r Room, cmd Command) ([]Event, Room, error) {
	if cmd.PlayerID != r.Host {
		return nil, r, ErrNotHost
	}
	if r.Status != StatusWaiting {
		return nil, r, ErrAlreadyStarted
	}
	if len(r.Players) < r.Mode.MinPlayers() {
		return nil, r, ErrNotEnoughPlayers
	}

	next := r.clone()
	next.Status = StatusPlaying
	next.Progress = NewProgress(0, cmd.Now)
	events := []Event{{Type: EvtGameStarted}}

	if r.Mode == ModeTournament {
		ids := make([]string, 0, len(next.Players))
		for id := range next.Players {
			ids = append(ids, id)
		}
		b, err := newBracket(ids, cmd.Now)
		if err != nil {
			return nil, r, err
		}
		next.Tournament = b
		events = append(events, Event{Type: EvtRoundGenerated, Round: RoundBracket})
	}
	return events, next, nil
}

func applySubmitAnswer(r Room, cmd Command) ([]Event, Room, error) {
	if r.Status != StatusPlaying {
		return nil, r, ErrNotPlaying
	}
	p, ok := r.Players[cmd.PlayerID]
	if !ok {
		return nil, r, ErrUnknownPlayer
	}

	next := r.clone()
	var events []Event

	if r.Mode == ModeTournament {
		m, ok := next.Tournament.Matches[next.Tournament.Round][cmd.MatchID]
		if !ok {
			return nil, r, ErrUnknownMatch
		}
		if !m.has(cmd.PlayerID) {
			return nil, r, ErrNotInMatch
		}
		if m.Status != StatusPlaying {
			return nil, r, ErrNotPlaying
		}
		idx := m.Progress.Index
		if m.Answered[cmd.PlayerID] > idx {
			return nil, r, ErrAlreadyAnswered
		}
		q := r.Questions[idx]
		remaining := RemainingSeconds(m.Progress.Deadline, cmd.Now)
		res := Score(cmd.Option == q.Answer, remaining, m.Streaks[cmd.PlayerID])

		m.Scores[cmd.PlayerID] += res.Points
		m.Streaks[cmd.PlayerID] = res.Streak
		m.Answered[cmd.PlayerID] = idx + 1
		next.Tournament.Matches[next.Tournament.Round][cmd.MatchID] = m

		p = next.Players[cmd.PlayerID]
		p.Score += res.Points
		p.Streak = res.Streak
		p.Answered++
		next.Players[cmd.PlayerID] = p

		events = append(events, Event{Type: EvtScoreApplied, PlayerID: cmd.PlayerID, MatchID: cmd.MatchID, Points: res.Points, Index: idx})
		if res.Alert {
			events = append(events, Event{Type: EvtStreakAlert, PlayerID: cmd.PlayerID, MatchID: cmd.MatchID})
		}
		return events, next, nil
	}

	idx := r.Progress.Index
	if p.Answered > idx {
		return nil, r, ErrAlreadyAnswered
	}
	q := r.Questions[idx]
	remaining := RemainingSeconds(r.Progress.Deadline, cmd.Now)
	res := Score(cmd.Option == q.Answer, remaining, p.Streak)

	p = next.Players[cmd.PlayerID]
	p.Score += res.Points
	p.Streak = res.Streak
	p.Answered++
	next.Players[cmd.PlayerID] = p

	events = append(events, Event{Type: EvtScoreApplied, PlayerID: cmd.PlayerID, Points: res.Points, Index: idx})
	if res.Alert {
		events = append(events, Event{Type: EvtStreakAlert, PlayerID: cmd.PlayerID})
	}
	return events, next, nil
}

func applyAdvance(r Room, cmd Command) ([]Event, Room, error) {
	if r.Status != StatusPlaying {
		return nil, r, nil
	}

	if r.Mode == ModeTournament {
		if cmd.MatchID == "" {
			return applySealRound(r, cmd)
		}
		next := r.clone()
		m, ok := next.Tournament.Matches[next.Tournament.Round][cmd.MatchID]
		if !ok || m.Status != StatusPlaying || m.Progress != cmd.Expected {
			// Lost the race (or a stale observer). Nothing to do.
			return nil, r, nil
		}
		i := m.Progress.Index + 1
		if i < len(r.Questions) {
			m.Progress = NewProgress(i, cmd.Now)
			next.Tournament.Matches[next.Tournament.Round][cmd.MatchID] = m
			return []Event{{Type: EvtQuestionAdvanced, MatchID: m.ID, Index: i}}, next, nil
		}
		events := finishMatch(&next, m.ID, m.winner(), cmd.Now)
		return events, next, nil
	}

	if r.Progress != cmd.Expected {
		return nil, r, nil
	}
	next := r.clone()
	i := r.Progress.Index + 1
	if i >= len(r.Questions) {
		next.Status = StatusFinished
		return []Event{{Type: EvtGameFinished}}, next, nil
	}
	next.Progress = NewProgress(i, cmd.Now)
	return []Event{{Type: EvtQuestionAdvanced, Index: i}}, next, nil
}

// applySealRound is the catch-all for a round whose matches all finished
// under different observers: none of them saw the whole round complete, so
// none generated the next round. Any observer may run this; it is a no-op
// unless the current round is complete and unsealed.
func applySealRound(r Room, cmd Command) ([]Event, Room, error) {
	b := r.Tournament
	if b == nil || !b.roundComplete() {
		return nil, r, nil
	}
	winners := b.winners()

	if len(winners) == 1 {
		if b.Champion != "" {
			return nil, r, nil
		}
		next := r.clone()
		next.Tournament.Champion = winners[0]
		next.Status = StatusFinished
		return []Event{
			{Type: EvtChampionDecided, PlayerID: winners[0]},
			{Type: EvtGameFinished},
		}, next, nil
	}

	round, ok := nextRound(len(b.Matches[b.Round]))
	if !ok {
		return nil, r, nil
	}
	if _, exists := b.Matches[round]; exists {
		return nil, r, nil
	}
	next := r.clone()
	next.Tournament.Matches[round] = makeMatches(winners, cmd.Now)
	next.Tournament.Round = round
	return []Event{{Type: EvtRoundGenerated, Round: round}}, next, nil
}

func applyForfeit(r Room, cmd Command) ([]Event, Room, error) {
	if r.Status != StatusPlaying || r.Mode != ModeTournament {
		return nil, r, ErrNotPlaying
	}
	m, ok := r.Tournament.MatchFor(cmd.Target)
	if !ok || m.Status != StatusPlaying {
		return nil, r, nil
	}
	next := r.clone()
	events := finishMatch(&next, m.ID, m.Opponent(cmd.Target), cmd.Now)
	return events, next, nil
}

// finishMatch records the winner and cascades: a completed round generates
// the next one exactly once, and the final produces the champion.
func finishMatch(r *Room, matchID, winner string, now int64) []Event {
	b := r.Tournament
	m := b.Matches[b.Round][matchID]
	m.Status = StatusFinished
	m.Winner = winner
	b.Matches[b.Round][matchID] = m

	if p, ok := r.Players[winner]; ok {
		p.Wins++
		r.Players[winner] = p
	}

	events := []Event{{Type: EvtMatchFinished, MatchID: matchID, PlayerID: winner, Round: b.Round}}
	if !b.roundComplete() {
		return events
	}

	winners := b.winners()
	if len(winners) == 1 {
		b.Champion = winners[0]
		r.Status = StatusFinished
		return append(events,
			Event{Type: EvtChampionDecided, PlayerID: winners[0]},
			Event{Type: EvtGameFinished},
		)
	}

	round, ok := nextRound(len(b.Matches[b.Round]))
	if !ok {
		// Unreachable with 4 or 8 entrants; guarded at start time.
		return events
	}
	b.Matches[round] = makeMatches(winners, now)
	b.Round = round
	return append(events, Event{Type: EvtRoundGenerated, Round: round})
}

func applyRematch(r Room, cmd Command) ([]Event, Room, error) {
	if cmd.PlayerID != r.Host {
		return nil, r, ErrNotHost
	}
	if r.Status != StatusFinished {
		return nil, r, ErrNotFinished
	}
	next := r.clone()
	next.Status = StatusWaiting
	next.Progress = Progress{}
	next.Tournament = nil
	next.Reactions = nil
	next.Chat = nil
	if len(cmd.Questions) > 0 {
		next.Questions = cmd.Questions
	}
	for id, p := range next.Players {
		// Name and wins survive a rematch; everything earned in the game
		// that just ended does not.
		next.Players[id] = Player{Name: p.Name, Wins: p.Wins, JoinedAt: p.JoinedAt}
	}
	return []Event{{Type: EvtRematchStarted}}, next, nil
}
