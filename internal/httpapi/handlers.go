package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jambcbt/battle-backend/internal/battle"
	"github.com/jambcbt/battle-backend/internal/questions"
	"github.com/jambcbt/battle-backend/internal/session"
	"github.com/jambcbt/battle-backend/internal/store"
	"github.com/jambcbt/battle-backend/pkg/types"
)

// CreateRoom fetches a question set and seeds the room document. The rest
// of the room lifecycle happens through store operations; this endpoint
// exists so a host without direct question-bank access can still open a
// room.
func CreateRoom(st store.Store, src questions.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.PlayerID == "" || req.Name == "" {
			http.Error(w, "playerId and name are required", http.StatusBadRequest)
			return
		}
		mode := battle.ModeCasual
		switch req.Mode {
		case "", string(battle.ModeCasual):
		case string(battle.ModeTournament):
			mode = battle.ModeTournament
		default:
			http.Error(w, "unknown mode", http.StatusBadRequest)
			return
		}

		qs, err := src.Fetch(r.Context(), req.Subject, battle.QuestionsPerGame)
		if err != nil {
			if errors.Is(err, questions.ErrNoQuestions) {
				http.Error(w, "no questions for subject", http.StatusBadGateway)
				return
			}
			http.Error(w, "question fetch failed", http.StatusBadGateway)
			return
		}

		code, err := session.CreateRoom(r.Context(), st, req.PlayerID, req.Name, req.Subject, mode, qs)
		if err != nil {
			slog.Error("create room failed", "err", err)
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.CreateRoomResponse{Code: code})
	}
}

func Subjects(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.SubjectsResponse{Subjects: questions.Subjects})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
