package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jambcbt/battle-backend/internal/hub"
	"github.com/jambcbt/battle-backend/internal/questions"
	"github.com/jambcbt/battle-backend/internal/store"
	"github.com/jambcbt/battle-backend/internal/ws"
)

func SetupRoutes(st store.Store, relay *hub.Relay, src questions.Source) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/rooms", CreateRoom(st, src))
	r.Get("/subjects", Subjects)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(st, relay))
	return r
}
