// Package aiserver implements the AI service: an HTTP listener whose
// /start endpoint the game server calls when an AI seat's opponent
// joins, and a websocket client that then plays the game like any
// other player.
package aiserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
)

const xsrfCookie = "_xsrf"

// Server handles /start. The endpoint is protected by a double-submit
// CSRF cookie: GET issues the cookie, POST must present the same value
// as both cookie and X-XSRFToken header.
type Server struct {
	gameServerURL string

	// startClient is replaceable in tests.
	startClient func(playerKey, aiSecret string)
}

func NewServer(gameServerURL string) *Server {
	s := &Server{gameServerURL: gameServerURL}
	s.startClient = s.startGame
	return s
}

// Handler returns the service's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStart)
	return mux
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		token := make([]byte, 16)
		if _, err := rand.Read(token); err != nil {
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     xsrfCookie,
			Value:    hex.EncodeToString(token),
			Path:     "/",
			HttpOnly: true,
		})

	case http.MethodPost:
		cookie, err := r.Cookie(xsrfCookie)
		if err != nil || cookie.Value == "" ||
			r.Header.Get("X-XSRFToken") != cookie.Value {
			http.Error(w, "CSRF token missing or invalid", http.StatusForbidden)
			return
		}

		playerKey := r.URL.Query().Get("player_key")
		aiSecret := r.URL.Query().Get("ai_secret")
		if playerKey == "" || aiSecret == "" {
			http.Error(w, "player_key and ai_secret are required", http.StatusBadRequest)
			return
		}

		slog.Info("starting AI player", "key", playerKey)
		go s.startClient(playerKey, aiSecret)
		fmt.Fprintln(w, "OK")

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) startGame(playerKey, aiSecret string) {
	client := NewClient(s.gameServerURL, playerKey, aiSecret, RandomPolicy{})
	if err := client.Run(context.Background()); err != nil {
		slog.Error("AI client exited with error", "key", playerKey, "error", err)
	}
}
