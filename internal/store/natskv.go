package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsKV adapts a NATS JetStream key-value bucket to the Store interface.
// One KV key per document; nested paths are read-modify-write loops guarded
// by the entry revision, so sub-path writes never clobber sibling fields.
type natsKV struct {
	kv nats.KeyValue
}

const casRetries = 8

// DialNats connects with the reconnect posture a flaky client network needs.
func DialNats(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

// NewNatsKV binds to the named bucket, creating it if needed.
func NewNatsKV(nc *nats.Conn, bucket string) (Store, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("kv bucket %q: %w", bucket, err)
	}
	return &natsKV{kv: kv}, nil
}

func (s *natsKV) Read(_ context.Context, path string) (json.RawMessage, error) {
	parts, err := Split(path)
	if err != nil {
		return nil, err
	}
	doc, _, err := s.load(parts[0])
	if err != nil {
		return nil, err
	}
	v, ok := getAt(doc, parts[1:])
	if !ok {
		return nil, ErrNotFound
	}
	return json.Marshal(v)
}

func (s *natsKV) Write(ctx context.Context, path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	if len(parts) == 1 {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := s.kv.Put(parts[0], raw); err != nil {
			return fmt.Errorf("kv put %s: %w", path, err)
		}
		return nil
	}
	return s.mutate(parts[0], func(doc any) (any, bool) {
		return setAt(doc, parts[1:], v), true
	})
}

func (s *natsKV) Update(_ context.Context, path string, fields map[string]any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		norm[k] = nv
	}
	return s.mutate(parts[0], func(doc any) (any, bool) {
		for k, v := range norm {
			doc = setAt(doc, append(parts[1:], k), v)
		}
		return doc, true
	})
}

func (s *natsKV) Delete(_ context.Context, path string) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	if len(parts) == 1 {
		if err := s.kv.Delete(parts[0]); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("kv delete %s: %w", path, err)
		}
		return nil
	}
	err = s.mutate(parts[0], func(doc any) (any, bool) {
		return deleteAt(doc, parts[1:]), true
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *natsKV) CompareAndSwap(_ context.Context, path string, expected, next any) (bool, error) {
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

	doc, rev, err := s.load(parts[0])
	if errors.Is(err, ErrNotFound) {
		if exp != nil || len(parts) > 1 {
			return false, nil
		}
		raw, err := json.Marshal(nxt)
		if err != nil {
			return false, err
		}
		_, err = s.kv.Create(parts[0], raw)
		if isConflict(err) {
			return false, nil
		}
		return err == nil, err
	}
	if err != nil {
		return false, err
	}

	cur, _ := getAt(doc, parts[1:])
	if !reflect.DeepEqual(cur, exp) {
		return false, nil
	}
	raw, err := json.Marshal(setAt(doc, parts[1:], nxt))
	if err != nil {
		return false, err
	}
	_, err = s.kv.Update(parts[0], raw, rev)
	if isConflict(err) {
		// Someone else got there between our read and our write.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv cas %s: %w", path, err)
	}
	return true, nil
}

func (s *natsKV) Subscribe(ctx context.Context, key string) (<-chan Event, func(), error) {
	parts, err := Split(key)
	if err != nil || len(parts) != 1 {
		return nil, nil, ErrBadPath
	}
	w, err := s.kv.Watch(key, nats.Context(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("kv watch %s: %w", key, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		seen := false
		for entry := range w.Updates() {
			if entry == nil {
				// Caught-up marker. If the key never existed, still emit the
				// initial "absent" event subscribers expect.
				if !seen {
					seen = true
					out <- Event{Path: key}
				}
				continue
			}
			seen = true
			if entry.Operation() != nats.KeyValuePut {
				out <- Event{Path: key}
				continue
			}
			out <- Event{Path: key, Value: entry.Value()}
		}
	}()
	cancel := func() { _ = w.Stop() }
	return out, cancel, nil
}

// load fetches and decodes one document plus its revision.
func (s *natsKV) load(key string) (any, uint64, error) {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	var doc any
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, 0, fmt.Errorf("kv decode %s: %w", key, err)
	}
	return doc, entry.Revision(), nil
}

// mutate retries a read-modify-write until the revision holds still.
func (s *natsKV) mutate(key string, fn func(doc any) (any, bool)) error {
	for i := 0; i < casRetries; i++ {
		doc, rev, err := s.load(key)
		fresh := false
		if errors.Is(err, ErrNotFound) {
			doc, fresh = nil, true
		} else if err != nil {
			return err
		}

		next, ok := fn(doc)
		if !ok {
			return nil
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if fresh {
			_, err = s.kv.Create(key, raw)
		} else {
			_, err = s.kv.Update(key, raw, rev)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("kv mutate %s: %w", key, err)
		}
	}
	return fmt.Errorf("kv mutate %s: too many conflicts", key)
}

// isConflict matches the KV errors that mean "your revision is stale", which
// for our purposes is a lost race, not a failure.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}
