// Package server implements the HTTP/websocket surface, middleware, and
// background match recording for the application.
package server

import (
	"net/http"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/config"
	"github.com/woozymasta/muster/internal/geoip"
	"github.com/woozymasta/muster/internal/matchmaking"
	"github.com/woozymasta/muster/internal/models"
	"github.com/woozymasta/muster/internal/rallypoint"
	"github.com/woozymasta/muster/internal/storage"
)

// New creates a new Server instance over the provided storage, GeoIP
// provider, ping registry, and configuration, wiring the match acceptor's
// notifications into websocket publishes and history records.
func New(store *storage.Repository, geo *geoip.Provider, registry *rallypoint.Registry, cfg *config.Config) *Server {
	origins := make(map[uint64]struct{})
	for _, origin := range cfg.Server.AllowedOrigins {
		origins[xxhash.Sum64String(origin)] = struct{}{}
	}

	s := &Server{
		storage:        store,
		geoip:          geo,
		registry:       registry,
		hub:            newHub(),
		authToken:      cfg.Server.AuthToken,
		allowedOrigins: origins,
		maxBody:        cfg.Server.MaxBodySize,
		trustProxy:     cfg.Server.TrustProxy,
		limitCount:     cfg.RateLimit.Count,
		limitWin:       cfg.RateLimit.Window,

		queue:    make(chan models.MatchRecord, 256),
		shutdown: make(chan struct{}),
	}

	s.broadcaster = rallypoint.NewBroadcaster(registry.Servers(), s.hub)
	s.acceptor = matchmaking.New(cfg.Match.AcceptTimeout, matchmaking.Handlers{
		OnAcceptProgress: s.onAcceptProgress,
		OnAccepted:       s.onAccepted,
		OnDeclined:       s.onDeclined,
		OnError:          s.onNotifyError,
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// checkOrigin validates the websocket Origin header against the configured
// whitelist. An empty whitelist or a missing header accepts the connection;
// non-browser clients do not send Origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	_, ok := s.allowedOrigins[xxhash.Sum64String(origin)]
	return ok
}

// StartWorkers initializes the background worker pool that persists
// finalized match records.
func (s *Server) StartWorkers() {
	workers := 4
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// StopWorkers gracefully stops the background workers, draining any queued
// records first.
func (s *Server) StopWorkers() {
	close(s.shutdown)
	s.wg.Wait()
}

// worker persists match records from the queue until shutdown.
func (s *Server) worker() {
	defer s.wg.Done()

	for {
		select {
		case rec := <-s.queue:
			s.recordMatch(rec)
		case <-s.shutdown:
			for {
				select {
				case rec := <-s.queue:
					s.recordMatch(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) recordMatch(rec models.MatchRecord) {
	if err := s.storage.RecordMatch(rec); err != nil {
		log.Error().Err(err).Str("match", rec.ID).Msg("Failed to save match record")
		return
	}

	log.Debug().
		Str("match", rec.ID).
		Str("outcome", rec.Outcome).
		Msg("Match record saved")
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/socket", s.RateLimitMiddleware(http.HandlerFunc(s.handleSocket)))
	mux.Handle("GET /api/servers", s.RateLimitMiddleware(http.HandlerFunc(s.handleGetServers)))
	mux.Handle("POST /api/matches", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleAddMatch)))
	mux.Handle("GET /api/matches", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleGetMatches)))

	return s.LoggingMiddleware(mux)
}
