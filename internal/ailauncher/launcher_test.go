package ailauncher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thisisrandy/igo/internal/protocol"
)

func csrfServer(t *testing.T, token string, fail *atomic.Bool) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/start", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			gets.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "_xsrf", Value: token})
		case http.MethodPost:
			posts.Add(1)
			if fail != nil && fail.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			if r.Header.Get("X-XSRFToken") != token {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			cookie, err := r.Cookie("_xsrf")
			if err != nil || cookie.Value != token {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &gets, &posts
}

func TestStartOnce_FetchesTokenThenPosts(t *testing.T) {
	srv, gets, posts := csrfServer(t, "tok123", nil)
	l := New(srv.URL)
	pair := protocol.KeyPair{PlayerKey: "0123456789", AISecret: "abcdefghij"}

	require.NoError(t, l.StartOnce(context.Background(), pair))
	assert.Equal(t, int32(1), gets.Load())
	assert.Equal(t, int32(1), posts.Load())

	// The token is cached across launches.
	require.NoError(t, l.StartOnce(context.Background(), pair))
	assert.Equal(t, int32(1), gets.Load())
	assert.Equal(t, int32(2), posts.Load())
}

func TestStartOnce_RequiresSecret(t *testing.T) {
	l := New("http://localhost:1918")
	err := l.StartOnce(context.Background(), protocol.KeyPair{PlayerKey: "0123456789"})
	assert.ErrorContains(t, err, "without their secret")
}

func TestStartOnce_PropagatesFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, _, _ := csrfServer(t, "tok123", &fail)
	l := New(srv.URL)

	err := l.StartOnce(context.Background(),
		protocol.KeyPair{PlayerKey: "0123456789", AISecret: "abcdefghij"})
	assert.ErrorContains(t, err, "failed to contact the AI service")
}

func TestStart_RetriesUntilSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv, _, posts := csrfServer(t, "tok123", &fail)
	l := New(srv.URL)

	done := make(chan error, 1)
	go func() {
		done <- l.Start(context.Background(),
			protocol.KeyPair{PlayerKey: "0123456789", AISecret: "abcdefghij"})
	}()

	// Let at least one failing attempt through, then recover.
	require.Eventually(t, func() bool { return posts.Load() > 0 },
		time.Second, 10*time.Millisecond)
	fail.Store(false)

	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, posts.Load(), int32(2))
}

func TestRestart_SkipsLegitimatelyEndedSessions(t *testing.T) {
	srv, _, posts := csrfServer(t, "tok123", nil)
	l := New(srv.URL)
	pair := protocol.KeyPair{PlayerKey: "0123456789", AISecret: "abcdefghij"}

	require.NoError(t, l.Restart(context.Background(), pair,
		&PreviousSession{OpponentConnected: false, GameComplete: false}))
	require.NoError(t, l.Restart(context.Background(), pair,
		&PreviousSession{OpponentConnected: true, GameComplete: true}))
	assert.Equal(t, int32(0), posts.Load())

	require.NoError(t, l.Restart(context.Background(), pair,
		&PreviousSession{OpponentConnected: true, GameComplete: false}))
	assert.Equal(t, int32(1), posts.Load())
}
