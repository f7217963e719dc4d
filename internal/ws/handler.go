// Package ws exposes the session store over a websocket: clients send
// store operations and receive results plus change notifications for the
// keys they subscribed to. No game logic lives here; the server is a dumb
// document host.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jambcbt/battle-backend/internal/hub"
	"github.com/jambcbt/battle-backend/internal/store"
	"github.com/jambcbt/battle-backend/pkg/types"
)

func Handler(st store.Store, relay *hub.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(1 << 20)

		c := &client{
			st:    st,
			relay: relay,
			id:    uuid.NewString(),
			out:   make(chan types.ServerMessage, 32),
			subs:  make(map[string]struct{}),
		}
		defer c.teardown()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range c.out {
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Clean close/going-away is normal; anything else also just
				// ends the connection (teardown runs in the defer).
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				c.out <- types.ServerMessage{Type: types.MsgError, Error: "bad json"}
				continue
			}
			c.out <- c.handle(r.Context(), cm)
		}
	}
}

type client struct {
	st    store.Store
	relay *hub.Relay
	id    string
	out   chan types.ServerMessage
	subs  map[string]struct{}
	wg    sync.WaitGroup
}

func (c *client) handle(ctx context.Context, cm types.ClientMessage) types.ServerMessage {
	switch cm.Type {
	case types.OpRead:
		raw, err := c.st.Read(ctx, cm.Path)
		if errors.Is(err, store.ErrNotFound) {
			// Absent reads as null, not as an error.
			return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path, Value: json.RawMessage("null")}
		}
		if err != nil {
			return c.fail(cm, err)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path, Value: raw}

	case types.OpWrite:
		if err := c.st.Write(ctx, cm.Path, cm.Value); err != nil {
			return c.fail(cm, err)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}

	case types.OpUpdate:
		fields := make(map[string]any, len(cm.Fields))
		for k, v := range cm.Fields {
			fields[k] = v
		}
		if err := c.st.Update(ctx, cm.Path, fields); err != nil {
			return c.fail(cm, err)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}

	case types.OpDelete:
		if err := c.st.Delete(ctx, cm.Path); err != nil {
			return c.fail(cm, err)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}

	case types.OpCas:
		swapped, err := c.st.CompareAndSwap(ctx, cm.Path, cm.Expected, cm.Next)
		if err != nil {
			return c.fail(cm, err)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path, Swapped: &swapped}

	case types.OpSubscribe:
		if _, dup := c.subs[cm.Path]; dup {
			return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}
		}
		outbox := make(chan store.Event, 16)
		if err := c.relay.Subscribe(cm.Path, c.id, outbox); err != nil {
			return c.fail(cm, err)
		}
		c.subs[cm.Path] = struct{}{}
		c.wg.Add(1)
		go c.forward(outbox)
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}

	case types.OpUnsubscribe:
		if _, ok := c.subs[cm.Path]; ok {
			c.relay.Unsubscribe(cm.Path, c.id)
			delete(c.subs, cm.Path)
		}
		return types.ServerMessage{Type: types.MsgResult, Seq: cm.Seq, Path: cm.Path}

	default:
		return types.ServerMessage{Type: types.MsgError, Seq: cm.Seq, Error: "unknown type"}
	}
}

func (c *client) fail(cm types.ClientMessage, err error) types.ServerMessage {
	return types.ServerMessage{Type: types.MsgError, Seq: cm.Seq, Path: cm.Path, Error: err.Error()}
}

// forward turns hub events into Change messages until the hub closes the
// outbox (unsubscribe or hub shutdown).
func (c *client) forward(outbox chan store.Event) {
	defer c.wg.Done()
	for ev := range outbox {
		c.out <- types.ServerMessage{Type: types.MsgChange, Path: ev.Path, Value: ev.Value}
	}
}

// teardown runs after the reader loop exits: drop every subscription, wait
// for the forwarders to drain, then release the writer.
func (c *client) teardown() {
	for key := range c.subs {
		c.relay.Unsubscribe(key, c.id)
	}
	c.wg.Wait()
	close(c.out)
}
