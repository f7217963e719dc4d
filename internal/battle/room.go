package battle

type Mode string

const (
	ModeCasual     Mode = "casual"
	ModeTournament Mode = "tournament"
)

// MaxPlayers is the join-time cap for rooms of this mode.
func (m Mode) MaxPlayers() int {
	if m == ModeTournament {
		return 8
	}
	return 4
}

// MinPlayers is the host-start precondition for rooms of this mode.
func (m Mode) MinPlayers() int {
	if m == ModeTournament {
		return 4
	}
	return 2
}

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

const QuestionsPerGame = 10

// Question is frozen at room creation; every client sees the same copy
// through the shared store. Field tags match the question bank payload.
type Question struct {
	ID      int               `json:"id"`
	Prompt  string            `json:"question"`
	Options map[string]string `json:"option"`
	Answer  string            `json:"answer"`
}

type Player struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Answered int    `json:"answered"`
	Streak   int    `json:"streak"`
	Wins     int    `json:"wins,omitempty"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
}

// Progress is the unit of compare-and-swap for question advancement: the
// current index plus the absolute deadline (unix millis) for that question.
// Observers derive remaining time from the deadline, never from a local
// countdown.
type Progress struct {
	Index    int   `json:"index"`
	Deadline int64 `json:"deadline"`
}

// OverlayEntry is one ephemeral reaction or chat message. Entries are
// appended under unique keys and filtered by age on the read side.
type OverlayEntry struct {
	Emoji string `json:"emoji,omitempty"`
	Text  string `json:"text,omitempty"`
	Name  string `json:"name"`
	Time  int64  `json:"time"`
}

// Room is the root shared object for one battle, stored whole under the
// room code. Host, Subject and Mode are immutable after creation.
type Room struct {
	Host       string                  `json:"host"`
	Subject    string                  `json:"subject"`
	Mode       Mode                    `json:"mode"`
	Status     Status                  `json:"status"`
	Questions  []Question              `json:"questions"`
	Progress   Progress                `json:"progress"`
	Players    map[string]Player       `json:"players"`
	Reactions  map[string]OverlayEntry `json:"reactions,omitempty"`
	Chat       map[string]OverlayEntry `json:"chat,omitempty"`
	Presence   map[string]int64        `json:"presence,omitempty"`
	Tournament *Bracket                `json:"tournament,omitempty"`
}

// NewRoom seeds a waiting room with the host already joined.
func NewRoom(host, hostName, subject string, mode Mode, questions []Question) Room {
	return Room{
		Host:      host,
		Subject:   subject,
		Mode:      mode,
		Status:    StatusWaiting,
		Questions: questions,
		Players: map[string]Player{
			host: {Name: hostName},
		},
	}
}

func (r Room) clone() Room {
	out := r
	out.Players = make(map[string]Player, len(r.Players))
	for id, p := range r.Players {
		out.Players[id] = p
	}
	if r.Reactions != nil {
		out.Reactions = make(map[string]OverlayEntry, len(r.Reactions))
		for k, v := range r.Reactions {
			out.Reactions[k] = v
		}
	}
	if r.Chat != nil {
		out.Chat = make(map[string]OverlayEntry, len(r.Chat))
		for k, v := range r.Chat {
			out.Chat[k] = v
		}
	}
	if r.Presence != nil {
		out.Presence = make(map[string]int64, len(r.Presence))
		for k, v := range r.Presence {
			out.Presence[k] = v
		}
	}
	if r.Tournament != nil {
		b := r.Tournament.clone()
		out.Tournament = &b
	}
	return out
}
