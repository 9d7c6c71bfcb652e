// Package ailauncher contracts the AI service to play one side of a
// game. The service's /start endpoint is CSRF protected, so the first
// launch acquires a token via GET and caches it for the life of the
// process.
package ailauncher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thisisrandy/igo/internal/protocol"
)

// aiSleep is how long to wait between attempts to contact the AI
// service.
const aiSleep = 2 * time.Second

const xsrfCookie = "_xsrf"

// PreviousSession is a hint describing the AI's prior subscription on
// a reconnect path. The launcher only re-contacts the service when the
// AI should still be playing.
type PreviousSession struct {
	OpponentConnected bool
	GameComplete      bool
}

// Launcher starts AI players over HTTP.
type Launcher struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	token string
}

func New(baseURL string) *Launcher {
	return &Launcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Start asks the AI service to play for the given key pair, retrying
// every 2 seconds until it succeeds or ctx is cancelled.
func (l *Launcher) Start(ctx context.Context, pair protocol.KeyPair) error {
	return l.start(ctx, pair, false, nil)
}

// StartOnce is Start with a single attempt; the first failure is
// returned to the caller.
func (l *Launcher) StartOnce(ctx context.Context, pair protocol.KeyPair) error {
	return l.start(ctx, pair, true, nil)
}

// Restart is Start guarded by a previous-session hint: if the prior
// subscription ended legitimately (game complete, or the opponent
// already gone), the AI should stay down and nothing is contacted.
func (l *Launcher) Restart(ctx context.Context, pair protocol.KeyPair, prev *PreviousSession) error {
	return l.start(ctx, pair, false, prev)
}

func (l *Launcher) start(ctx context.Context, pair protocol.KeyPair, justOnce bool, prev *PreviousSession) error {
	if pair.AISecret == "" {
		return fmt.Errorf("cannot start an AI player without their secret")
	}

	if prev != nil {
		if prev.OpponentConnected && !prev.GameComplete {
			slog.Warn("AI player dropped mid-game, reconnecting",
				"key", pair.PlayerKey)
		} else {
			slog.Info("no need to reconnect previously unsubscribed AI player",
				"key", pair.PlayerKey)
			return nil
		}
	}

	for {
		err := l.post(ctx, pair)
		if err == nil {
			slog.Info("AI service contracted to play", "key", pair.PlayerKey)
			return nil
		}
		if justOnce {
			return fmt.Errorf("failed to contact the AI service: %w", err)
		}
		slog.Error("failed to contact the AI service, will retry",
			"key", pair.PlayerKey, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(aiSleep):
		}
	}
}

func (l *Launcher) post(ctx context.Context, pair protocol.KeyPair) error {
	token, err := l.xsrfToken(ctx)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/start?player_key=%s&ai_secret=%s",
		l.baseURL, url.QueryEscape(pair.PlayerKey), url.QueryEscape(pair.AISecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building start request: %w", err)
	}
	req.Header.Set("X-XSRFToken", token)
	req.Header.Set("Cookie", fmt.Sprintf("%s=%s", xsrfCookie, token))

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to AI service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusForbidden {
			// The service may have restarted and invalidated our
			// token; fetch a fresh one on the next attempt.
			l.mu.Lock()
			l.token = ""
			l.mu.Unlock()
		}
		return fmt.Errorf("AI service returned status %d", resp.StatusCode)
	}
	return nil
}

// xsrfToken returns the cached CSRF token, fetching it once if needed.
// The lock ensures only one request populates it.
func (l *Launcher) xsrfToken(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return l.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/start", nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching CSRF token: %w", err)
	}
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		if cookie.Name == xsrfCookie {
			l.token = cookie.Value
			return l.token, nil
		}
	}
	return "", fmt.Errorf("AI service response carried no %s cookie", xsrfCookie)
}
