package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/woozymasta/muster/internal/geoip"
	"github.com/woozymasta/muster/internal/matchmaking"
	"github.com/woozymasta/muster/internal/models"
	"github.com/woozymasta/muster/internal/rallypoint"
	"github.com/woozymasta/muster/internal/storage"
)

// Server holds the dependencies, configuration, and runtime state required
// to handle the matchmaker API, client websockets, and background match
// history recording.
type Server struct {
	// storage provides access to the persistent database layer for match history.
	storage *storage.Repository

	// geoip provides functionality for resolving client IP addresses to country
	// codes. It can be nil if the GeoIP database is not initialized.
	geoip *geoip.Provider

	// registry holds the resolved rally-point server list and per-client
	// latency measurements.
	registry *rallypoint.Registry

	// broadcaster pushes the rally-point server list to each client once at
	// connection time.
	broadcaster *rallypoint.Broadcaster

	// acceptor is the match acceptance state tracker. Its notifications are
	// wired back into this server (hub publishes and history records).
	acceptor *matchmaking.Acceptor

	// hub tracks connected clients and their websocket send queues.
	hub *Hub

	// proposed maps an in-flight match info id to its client list, so accept
	// progress events can be routed to every member.
	proposed sync.Map

	// queue is a buffered channel used to pass finalized match records from
	// acceptor notifications to background workers for asynchronous persistence.
	queue chan models.MatchRecord

	// shutdown is a signal channel used to broadcast a stop signal to all
	// background workers during a graceful shutdown.
	shutdown chan struct{}

	// upgrader performs websocket upgrades, with Origin checks against
	// allowedOrigins.
	upgrader websocket.Upgrader

	// authToken is the secret token the external matchmaker must present to
	// access the match API endpoints.
	authToken string

	// allowedOrigins is a set of hashed websocket Origin values (using xxhash)
	// permitted to connect. Empty means any origin is accepted.
	allowedOrigins map[uint64]struct{}

	// wg is used to wait for all background workers to finish processing
	// before the server shuts down completely.
	wg sync.WaitGroup

	// maxBody specifies the maximum allowed size (in bytes) for incoming HTTP
	// request bodies.
	maxBody int64

	// limitCount is the maximum number of requests allowed per IP address
	// within the limitWin duration.
	limitCount int

	// limitWin is the time window duration for the per-IP rate limiter.
	limitWin time.Duration

	// trustProxy indicates whether the server should trust headers like
	// X-Forwarded-For when determining the client's real IP address.
	trustProxy bool
}
