package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/jambcbt/battle-backend/internal/httpapi"
	"github.com/jambcbt/battle-backend/internal/hub"
	"github.com/jambcbt/battle-backend/internal/questions"
	"github.com/jambcbt/battle-backend/internal/store"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(log)

	ctx := context.Background()

	// The store is the whole game: clients coordinate through it and this
	// process only hosts it. Memory by default, NATS JetStream KV when a
	// broker is configured.
	var st store.Store
	if url := os.Getenv("NATS_URL"); url != "" {
		nc, err := store.DialNats(url)
		if err != nil {
			log.Error("nats connect failed", "url", url, "err", err)
			os.Exit(1)
		}
		defer nc.Close()
		st, err = store.NewNatsKV(nc, env("NATS_BUCKET", "battles"))
		if err != nil {
			log.Error("nats kv bucket failed", "err", err)
			os.Exit(1)
		}
		log.Info("using nats jetstream store", "url", url)
	} else {
		st = store.NewMemory()
		log.Info("using in-memory store")
	}

	var src questions.Source = questions.NewHTTPSource(env("QUESTIONS_URL", "http://localhost:3550"))
	if path := os.Getenv("QUESTION_CACHE"); path != "" {
		cache, err := questions.OpenCache(path)
		if err != nil {
			log.Error("question cache open failed", "path", path, "err", err)
			os.Exit(1)
		}
		defer cache.Close()
		src = &questions.CachedSource{Remote: src, Cache: cache}
		log.Info("question cache enabled", "path", path)
	}

	h := hub.NewHub(ctx)
	relay := hub.NewRelay(ctx, st, h)
	handler := httpapi.SetupRoutes(st, relay, src)

	addr := ":" + env("PORT", "8080")
	log.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
