// Package hub fans change events out to subscribers, keyed by document
// path. One actor goroutine owns the subscriber table; everything reaches
// it through typed messages on the inbox.
package hub

import (
	"context"

	"github.com/jambcbt/battle-backend/internal/store"
)

type Msg interface{ isHubMsg() }

type Register struct {
	Path    string
	ID      string
	Outbox  chan store.Event
	Initial *store.Event // delivered first, before any later publish
}

type Unregister struct {
	Path string
	ID   string
}

type Publish struct {
	Event store.Event
}

type Shutdown struct{}

func (Register) isHubMsg()   {}
func (Unregister) isHubMsg() {}
func (Publish) isHubMsg()    {}
func (Shutdown) isHubMsg()   {}

type Hub struct {
	inbox  chan Msg
	subs   map[string]map[string]chan store.Event
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan Msg, 64),
		subs:   make(map[string]map[string]chan store.Event),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				if h.subs[msg.Path] == nil {
					h.subs[msg.Path] = make(map[string]chan store.Event)
				}
				h.subs[msg.Path][msg.ID] = msg.Outbox
				if msg.Initial != nil {
					msg.Outbox <- *msg.Initial
				}

			case Unregister:
				if out, ok := h.subs[msg.Path][msg.ID]; ok {
					delete(h.subs[msg.Path], msg.ID)
					close(out)
				}

			case Publish:
				for id, out := range h.subs[msg.Event.Path] {
					select {
					case out <- msg.Event:
					default:
						// Subscriber is slow/full - drop them.
						close(out)
						delete(h.subs[msg.Event.Path], id)
					}
				}

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for path, subs := range h.subs {
		for id, out := range subs {
			close(out)
			delete(subs, id)
		}
		delete(h.subs, path)
	}
	h.cancel()
}
