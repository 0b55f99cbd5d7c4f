package relayer

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server exposes POST /relay over TLS (spec §6 "Relayer HTTP").
type Server struct {
	relayer *Relayer
	log     zerolog.Logger
	router  chi.Router
}

func NewServer(r *Relayer, log zerolog.Logger) *Server {
	s := &Server{relayer: r, log: log}
	s.router = chi.NewRouter()
	s.router.Use(middleware.Recoverer)
	s.router.Post("/relay", s.handleRelay)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServeTLS binds addr and serves with the given cert/key, mandatory
// per spec §6.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	return http.ListenAndServeTLS(addr, certFile, keyFile, s)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.relayer.Relay(r.Context(), req)
	if err != nil {
		s.log.Warn().Err(err).Msg("relay error")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
