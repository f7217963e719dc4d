// Package questions fetches frozen question sets for a room. The network
// source is authoritative; a local cache keyed by subject keeps battles
// startable when the bank is unreachable.
package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jambcbt/battle-backend/internal/battle"
)

var ErrNoQuestions = errors.New("no questions available for subject")

// Subjects the bank serves, as offered in the battle lobby.
var Subjects = []string{
	"Use of English", "Mathematics", "Physics",
	"Chemistry", "Biology", "Economics",
	"Government", "Literature",
}

type Source interface {
	Fetch(ctx context.Context, subject string, count int) ([]battle.Question, error)
}

// HTTPSource pulls from the question bank API, which wraps its list in a
// data envelope.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, subject string, count int) ([]battle.Question, error) {
	u := fmt.Sprintf("%s/api/questions?subject=%s", s.BaseURL, url.QueryEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("question bank returned %s", resp.Status)
	}

	var payload struct {
		Data []battle.Question `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding questions: %w", err)
	}
	if len(payload.Data) < count {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrNoQuestions, len(payload.Data), count)
	}
	return payload.Data[:count], nil
}

// CachedSource tries the remote first and saves what it gets; on failure it
// falls back to the last cached set for the subject. Only when both miss
// does room creation fail.
type CachedSource struct {
	Remote Source
	Cache  *Cache
}

func (s *CachedSource) Fetch(ctx context.Context, subject string, count int) ([]battle.Question, error) {
	qs, err := s.Remote.Fetch(ctx, subject, count)
	if err == nil {
		// Best effort: a failed save must not fail the fetch.
		_ = s.Cache.Save(ctx, subject, qs)
		return qs, nil
	}

	cached, cacheErr := s.Cache.Load(ctx, subject)
	if cacheErr != nil || len(cached) < count {
		return nil, fmt.Errorf("%w (fetch failed: %v)", ErrNoQuestions, err)
	}
	return cached[:count], nil
}
