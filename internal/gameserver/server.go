package gameserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"
)

// Server upgrades websocket requests and hands the resulting
// connections to the manager.
type Server struct {
	manager       *Manager
	upgrader      websocket.Upgrader
	originMatcher *regexp.Regexp
}

// NewServer builds the websocket endpoint. originSuffix restricts the
// allowed Origin header to hosts ending in the given value, e.g.
// ".mydomain.com" for all subdomains; prefix with "^" for an exact
// match, or pass the empty string to allow all origins. Port numbers
// are not considered.
func NewServer(manager *Manager, originSuffix string) (*Server, error) {
	pattern := originSuffix + `(:\d+)?$`
	if !strings.HasPrefix(originSuffix, "^") {
		pattern = ".*" + pattern
	}
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling origin pattern %q: %w", pattern, err)
	}
	slog.Info("restricting websocket origins", "pattern", pattern)

	s := &Server{manager: manager, originMatcher: matcher}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if s.originMatcher.MatchString(u.Host) {
		return true
	}
	slog.Warn("disallowed origin attempted to connect", "origin", u.Host)
	return false
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(wsConn, clientID(r))
	slog.Info("new connection opened", "client", client.ID())
	go client.writePump()
	go client.readPump(s.manager)
}

// clientID is our best guess of the client IP plus a truncated
// websocket key, for log correlation.
func clientID(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	key := r.Header.Get("Sec-Websocket-Key")
	if len(key) > 7 {
		key = key[:7]
	}
	return fmt.Sprintf("%s (%s)", ip, key)
}
