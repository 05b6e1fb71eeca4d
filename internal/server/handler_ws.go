package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/models"
)

// Topics pushed to clients over their websocket.
const (
	topicMatchProgress = "matchmaking/progress"
	topicMatchResolved = "matchmaking/match"
	topicError         = "errors"
)

// Client message types.
const (
	msgPingResult  = "pingResult"
	msgAcceptMatch = "acceptMatch"
)

// handleSocket upgrades a client connection and serves it until it closes.
// The connection carries the client identity in the "name" query parameter;
// a second connection under a live name is rejected. On connect the client
// receives the rally-point server list exactly once; afterwards the socket
// carries ping reports and match acceptance signals inbound, and match
// notifications outbound. Socket close is a disconnect signal for any active
// match and clears the client's ping measurements.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing client name", http.StatusBadRequest)
		return
	}

	ip := GetRealIP(r, s.trustProxy)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("Websocket upgrade failed")
		return
	}

	var country string
	if s.geoip != nil {
		country = s.geoip.CountryCode(ip)
	}

	client := &hubClient{
		conn:    conn,
		name:    name,
		country: country,
		send:    make(chan models.Envelope, sendBuffer),
		done:    make(chan struct{}),
	}

	if err := s.hub.add(client); err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("Connection rejected")
		_ = conn.Close()
		return
	}

	go client.writePump()

	log.Info().
		Str("client", name).
		Str("ip", ip).
		Str("country", country).
		Msg("Client connected")

	s.broadcaster.ClientConnected(name)
	s.readLoop(client)
}

// readLoop dispatches inbound frames for one client until the socket errors
// or closes, then runs the disconnect sequence.
func (s *Server) readLoop(c *hubClient) {
	defer s.handleQuit(c)

	for {
		var msg models.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgPingResult:
			if err := s.registry.AddPing(c.name, msg.ServerIndex, msg.Ping); err != nil {
				log.Debug().
					Err(err).
					Str("client", c.name).
					Int("server_index", msg.ServerIndex).
					Msg("Ping report rejected")

				_ = s.hub.Publish(c.name, topicError, map[string]string{"error": err.Error()})
			}

		case msgAcceptMatch:
			if !s.acceptor.RegisterAccept(c.name) {
				_ = s.hub.Publish(c.name, topicError, map[string]string{"error": "no active match"})
			}

		default:
			log.Debug().Str("client", c.name).Str("type", msg.Type).Msg("Unknown client message")
		}
	}
}

// handleQuit runs in this order: the disconnect signal first (so the decline
// notification can still read the client's hub state), then hub removal and
// ping cleanup.
func (s *Server) handleQuit(c *hubClient) {
	s.acceptor.RegisterDisconnect(c.name)
	s.hub.remove(c.name)
	s.registry.ClearPings(c.name)

	log.Info().Str("client", c.name).Msg("Client disconnected")
}
