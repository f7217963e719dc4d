package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/jambcbt/battle-backend/internal/store"
)

// Relay bridges store change feeds into the hub: one store subscription
// per key no matter how many connections watch it, refcounted so the feed
// stops when the last watcher leaves.
type Relay struct {
	st  store.Store
	h   *Hub
	ctx context.Context

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	refs   int
	cancel func()
}

func NewRelay(ctx context.Context, st store.Store, h *Hub) *Relay {
	return &Relay{st: st, h: h, ctx: ctx, feeds: make(map[string]*feed)}
}

// Subscribe registers a connection's outbox for a key, starting the
// underlying store feed on first use. The key's current value (nil when
// absent) reaches this outbox before any later change.
func (r *Relay) Subscribe(key, connID string, outbox chan store.Event) error {
	raw, err := r.st.Read(r.ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	r.mu.Lock()
	f, ok := r.feeds[key]
	if !ok {
		events, cancel, err := r.st.Subscribe(r.ctx, key)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		f = &feed{cancel: cancel}
		r.feeds[key] = f
		go r.pump(events)
	}
	f.refs++
	r.mu.Unlock()

	select {
	case r.h.Inbox() <- Register{Path: key, ID: connID, Outbox: outbox, Initial: &store.Event{Path: key, Value: raw}}:
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
	return nil
}

func (r *Relay) Unsubscribe(key, connID string) {
	select {
	case r.h.Inbox() <- Unregister{Path: key, ID: connID}:
	case <-r.ctx.Done():
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[key]
	if !ok {
		return
	}
	f.refs--
	if f.refs <= 0 {
		f.cancel()
		delete(r.feeds, key)
	}
}

func (r *Relay) pump(events <-chan store.Event) {
	for ev := range events {
		select {
		case r.h.Inbox() <- Publish{Event: ev}:
		case <-r.ctx.Done():
			return
		}
	}
}
