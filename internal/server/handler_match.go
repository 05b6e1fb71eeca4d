package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/models"
)

// handleAddMatch accepts a match proposal from the external matchmaker.
// Every named client must be currently connected and free of any active
// match; the proposal fails atomically otherwise (nothing is tracked).
func (s *Server) handleAddMatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req models.AddMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if len(req.Clients) == 0 {
		http.Error(w, "Match requires at least one client", http.StatusBadRequest)
		return
	}

	seen := make(map[string]struct{}, len(req.Clients))
	for _, c := range req.Clients {
		if c == "" {
			http.Error(w, "Empty client name", http.StatusBadRequest)
			return
		}
		if _, dup := seen[c]; dup {
			http.Error(w, "Duplicate client: "+c, http.StatusBadRequest)
			return
		}
		seen[c] = struct{}{}

		if !s.hub.connected(c) {
			http.Error(w, "Client not connected: "+c, http.StatusConflict)
			return
		}
		if s.acceptor.HasActiveMatch(c) {
			http.Error(w, "Client already in an active match: "+c, http.StatusConflict)
			return
		}
	}

	info := &models.MatchInfo{
		ID:        uuid.NewString(),
		Payload:   req.Info,
		CreatedAt: time.Now(),
	}
	s.proposed.Store(info.ID, append([]string(nil), req.Clients...))

	if err := s.acceptor.AddMatch(info, req.Clients); err != nil {
		s.proposed.Delete(info.ID)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Info().
		Str("match", info.ID).
		Int("clients", len(req.Clients)).
		Msg("Match proposed")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": info.ID})
}

// handleGetMatches returns recorded match history, most recent first.
// Query params: ?limit=100
func (s *Server) handleGetMatches(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := s.storage.GetMatches(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch match history")
		http.Error(w, "Database Error", http.StatusInternalServerError)
		return
	}

	if recs == nil {
		recs = []models.MatchRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recs)
}

// handleGetServers returns the resolved rally-point server list.
func (s *Server) handleGetServers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.registry.Servers())
}
