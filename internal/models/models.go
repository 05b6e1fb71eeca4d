// Package models defines the data structures used for API requests, websocket
// frames, and database persistence.
package models

import (
	"encoding/json"
	"time"
)

// Client dispositions assigned when a match resolves.
const (
	DispositionPlay    = "play"    // match accepted, client proceeds to the session
	DispositionRequeue = "requeue" // client returns to the matchmaking queue
	DispositionKick    = "kick"    // client is removed from the queue
)

// Match outcomes recorded in storage.
const (
	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
)

// ClientMessage represents a single frame sent by a connected client.
type ClientMessage struct {
	Type        string  `json:"type"`
	ServerIndex int     `json:"serverIndex"`
	Ping        float64 `json:"ping"`
}

// Envelope is the frame format for everything pushed to a client, scoped
// to a well-known topic.
type Envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data,omitempty"`
}

// AddMatchRequest is the payload the external matchmaker posts to propose
// a match for acceptance.
type AddMatchRequest struct {
	Info    json.RawMessage `json:"info,omitempty"`
	Clients []string        `json:"clients"`
}

// MatchInfo is the opaque payload handed to the acceptor; it is round-tripped
// unchanged into every notification.
type MatchInfo struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"info,omitempty"`
	CreatedAt time.Time       `json:"-"`
}

// MatchProgress is published to clients while acceptances trickle in.
type MatchProgress struct {
	ID       string `json:"id"`
	Total    int    `json:"total"`
	Accepted int    `json:"accepted"`
}

// MatchResolved is published to every affected client once their match
// reaches a terminal state.
type MatchResolved struct {
	ID          string          `json:"id"`
	Outcome     string          `json:"outcome"`
	Disposition string          `json:"disposition"`
	Info        json.RawMessage `json:"info,omitempty"`
	Clients     []string        `json:"clients,omitempty"`
}

// MatchRecord is a finalized match persisted for operator visibility.
type MatchRecord struct {
	FinalizedAt time.Time     `json:"finalized_at"`
	CreatedAt   time.Time     `json:"created_at"`
	ID          string        `json:"id"`
	Outcome     string        `json:"outcome"`
	Info        string        `json:"info,omitempty"`
	Clients     []MatchClient `json:"clients"`
}

// MatchClient is the per-client row of a finalized match.
type MatchClient struct {
	Name        string `json:"name"`
	Disposition string `json:"disposition"`
	CountryCode string `json:"country_code,omitempty"`
}
