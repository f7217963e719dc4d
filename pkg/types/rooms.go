package types

// CreateRoomRequest is the body of POST /rooms. Mode is "casual" or
// "tournament"; PlayerID is the caller's self-generated session id, which
// becomes the room host.
type CreateRoomRequest struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	Mode     string `json:"mode"`
}

type CreateRoomResponse struct {
	Code string `json:"code"`
}

type SubjectsResponse struct {
	Subjects []string `json:"subjects"`
}
