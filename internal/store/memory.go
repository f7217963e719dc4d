package store

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
)

// Memory is the in-process Store: a JSON document tree per key with
// subscriber fanout. It backs the reference server and every test that
// needs store semantics without a broker.
type Memory struct {
	mu   sync.Mutex
	docs map[string]any
	subs map[string]map[int]chan Event
	next int
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]any),
		subs: make(map[string]map[int]chan Event),
	}
}

func (m *Memory) Read(_ context.Context, path string) (json.RawMessage, error) {
	parts, err := Split(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[parts[0]]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := getAt(doc, parts[1:])
	if !ok {
		return nil, ErrNotFound
	}
	return json.Marshal(v)
}

func (m *Memory) Write(_ context.Context, path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(parts) == 1 {
		m.docs[parts[0]] = v
	} else {
		m.docs[parts[0]] = setAt(m.docs[parts[0]], parts[1:], v)
	}
	m.notify(parts[0])
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, raw := range fields {
		v, err := normalize(raw)
		if err != nil {
			return err
		}
		m.docs[parts[0]] = setAt(m.docs[parts[0]], append(parts[1:], k), v)
	}
	m.notify(parts[0])
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(parts) == 1 {
		if _, ok := m.docs[parts[0]]; !ok {
			return nil
		}
		delete(m.docs, parts[0])
	} else {
		doc, ok := m.docs[parts[0]]
		if !ok {
			return nil
		}
		m.docs[parts[0]] = deleteAt(doc, parts[1:])
	}
	m.notify(parts[0])
	return nil
}

func (m *Memory) CompareAndSwap(_ context.Context, path string, expected, next any) (bool, error) {
	parts, err := Split(path)
	if err != nil {
		return false, err
	}
	exp, err := normalize(expected)
	if err != nil {
		return false, err
	}
	nxt, err := normalize(next)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur any
	if doc, ok := m.docs[parts[0]]; ok {
		cur, _ = getAt(doc, parts[1:])
	}
	if !reflect.DeepEqual(cur, exp) {
		return false, nil
	}
	if len(parts) == 1 {
		m.docs[parts[0]] = nxt
	} else {
		m.docs[parts[0]] = setAt(m.docs[parts[0]], parts[1:], nxt)
	}
	m.notify(parts[0])
	return true, nil
}

func (m *Memory) Subscribe(_ context.Context, key string) (<-chan Event, func(), error) {
	parts, err := Split(key)
	if err != nil || len(parts) != 1 {
		return nil, nil, ErrBadPath
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(chan Event, 16)
	id := m.next
	m.next++
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan Event)
	}
	m.subs[key][id] = out

	// Current value first, Firebase-style, nil when absent.
	out <- Event{Path: key, Value: m.snapshot(key)}

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ch, ok := m.subs[key][id]; ok {
			delete(m.subs[key], id)
			close(ch)
		}
	}
	return out, cancel, nil
}

// notify is called with mu held.
func (m *Memory) notify(key string) {
	if len(m.subs[key]) == 0 {
		return
	}
	evt := Event{Path: key, Value: m.snapshot(key)}
	for id, out := range m.subs[key] {
		select {
		case out <- evt:
		default:
			// Subscriber is slow/full - drop them.
			close(out)
			delete(m.subs[key], id)
		}
	}
}

func (m *Memory) snapshot(key string) json.RawMessage {
	doc, ok := m.docs[key]
	if !ok {
		return nil
	}
	raw, _ := json.Marshal(doc)
	return raw
}

func getAt(doc any, parts []string) (any, bool) {
	cur := doc
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setAt writes v at the path, creating intermediate objects and replacing
// non-object nodes in the way.
func setAt(doc any, parts []string, v any) any {
	if len(parts) == 0 {
		return v
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		obj = make(map[string]any)
	}
	obj[parts[0]] = setAt(obj[parts[0]], parts[1:], v)
	return obj
}

func deleteAt(doc any, parts []string) any {
	obj, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	if len(parts) == 1 {
		delete(obj, parts[0])
		return obj
	}
	if child, ok := obj[parts[0]]; ok {
		obj[parts[0]] = deleteAt(child, parts[1:])
	}
	return obj
}
