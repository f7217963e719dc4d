package questions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jambcbt/battle-backend/internal/battle"
)

func bankHandler(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/questions", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const bankBody = `{"data":[
	{"id":1,"question":"2+2?","option":{"a":"3","b":"4","c":"5","d":"6"},"answer":"b"},
	{"id":2,"question":"3+3?","option":{"a":"6","b":"4","c":"5","d":"7"},"answer":"a"}
]}`

func TestHTTPSourceFetch(t *testing.T) {
	srv := bankHandler(t, http.StatusOK, bankBody)
	src := NewHTTPSource(srv.URL)

	qs, err := src.Fetch(context.Background(), "Mathematics", 2)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	require.Equal(t, "2+2?", qs[0].Prompt)
	require.Equal(t, "b", qs[0].Answer)
	require.Equal(t, "4", qs[0].Options["b"])
}

func TestHTTPSourceShortSet(t *testing.T) {
	srv := bankHandler(t, http.StatusOK, bankBody)
	src := NewHTTPSource(srv.URL)

	_, err := src.Fetch(context.Background(), "Mathematics", 10)
	require.ErrorIs(t, err, ErrNoQuestions)
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := bankHandler(t, http.StatusBadGateway, "")
	src := NewHTTPSource(srv.URL)

	_, err := src.Fetch(context.Background(), "Mathematics", 2)
	require.Error(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	c, err := OpenCache(":memory:")
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	qs := []battle.Question{{ID: 1, Prompt: "p", Options: map[string]string{"a": "x", "b": "y", "c": "z", "d": "w"}, Answer: "a"}}
	require.NoError(t, c.Save(ctx, "Physics", qs))

	got, err := c.Load(ctx, "Physics")
	require.NoError(t, err)
	require.Equal(t, qs, got)

	_, err = c.Load(ctx, "Biology")
	require.ErrorIs(t, err, ErrNoQuestions)

	subjects, err := c.CachedSubjects(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Physics"}, subjects)
}

func TestCachedSourceFallsBack(t *testing.T) {
	c, err := OpenCache(":memory:")
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	// First fetch succeeds and warms the cache.
	srv := bankHandler(t, http.StatusOK, bankBody)
	src := &CachedSource{Remote: NewHTTPSource(srv.URL), Cache: c}
	qs, err := src.Fetch(ctx, "Mathematics", 2)
	require.NoError(t, err)
	require.Len(t, qs, 2)

	// Bank goes away; the cached set keeps the room creatable.
	srv.Close()
	qs2, err := src.Fetch(ctx, "Mathematics", 2)
	require.NoError(t, err)
	require.Equal(t, qs, qs2)

	// No cache for this subject: hard failure surfaces to the host.
	_, err = src.Fetch(ctx, "Economics", 2)
	require.ErrorIs(t, err, ErrNoQuestions)
}
