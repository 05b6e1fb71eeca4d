// Package matchmaking tracks proposed matches awaiting unanimous, time-bounded
// acceptance from every client. A match either completes (all clients accept
// in time) or is declined (a client disconnects, or the accept timer fires),
// and every resolution assigns each client a disposition via the registered
// handlers.
package matchmaking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyClients is returned by AddMatch for an empty client set.
var ErrEmptyClients = errors.New("match requires at least one client")

// Status of a single client within a pending match.
type Status int

// Per-client acceptance states.
const (
	StatusUnaccepted Status = iota
	StatusAccepted
	StatusDisconnected
)

// Handlers receives match resolution notifications. State mutation and
// storage cleanup are always committed before any handler runs, and an error
// or panic from a handler is routed to OnError, never back to the caller of
// the triggering signal. Handlers run on the goroutine delivering the signal,
// serialized with all other signals, and must not call back into the
// Acceptor. Nil handlers are skipped.
type Handlers struct {
	// OnAcceptProgress fires for every acceptance that did not complete the
	// match, with the total client count and the count accepted so far.
	OnAcceptProgress func(info any, total, accepted int) error

	// OnAccepted fires exactly once when every client has accepted, with the
	// clients in the order they were passed to AddMatch.
	OnAccepted func(info any, clients []string) error

	// OnDeclined fires exactly once when a match is declined, partitioning
	// the original client set into clients to requeue and clients to kick.
	OnDeclined func(info any, requeue, kick []string) error

	// OnError receives failures raised by the handlers above, together with
	// the affected client set.
	OnError func(err error, clients []string)
}

// match is the per-proposal state. order and info are fixed at creation;
// status and the timer are mutated only under the acceptor mutex.
type match struct {
	info   any
	status map[string]Status
	timer  *clock.Timer
	id     string
	order  []string
}

func (m *match) countAccepted() int {
	n := 0
	for _, s := range m.status {
		if s == StatusAccepted {
			n++
		}
	}
	return n
}

// partition splits the original client set, preserving AddMatch order, into
// clients matching the predicate on their final status and the rest.
func (m *match) partition(requeue func(Status) bool) (in, out []string) {
	for _, c := range m.order {
		if requeue(m.status[c]) {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}
	return in, out
}

// Acceptor is the match acceptance state tracker. A client identity maps to
// at most one active match at any time; a match, once finalized, is never
// re-entered.
type Acceptor struct {
	clk      clock.Clock
	matches  map[string]*match
	byClient map[string]string
	handlers Handlers
	timeout  time.Duration
	mu       sync.Mutex
}

// New creates an acceptor. acceptTimeout is the time clients are given to
// accept before the match is declined; it must be positive.
func New(acceptTimeout time.Duration, handlers Handlers) *Acceptor {
	return newAcceptor(acceptTimeout, handlers, clock.New())
}

func newAcceptor(acceptTimeout time.Duration, handlers Handlers, clk clock.Clock) *Acceptor {
	return &Acceptor{
		clk:      clk,
		timeout:  acceptTimeout,
		handlers: handlers,
		matches:  make(map[string]*match),
		byClient: make(map[string]string),
	}
}

// AddMatch registers a proposed match for acceptance. info is opaque and is
// round-tripped unchanged into every notification; clients must be a
// non-empty, deduplicated set of identities, none of which may belong to
// another active match (a caller contract, not defended here).
func (a *Acceptor) AddMatch(info any, clients []string) error {
	if len(clients) == 0 {
		return ErrEmptyClients
	}

	m := &match{
		id:     uuid.NewString(),
		info:   info,
		order:  append([]string(nil), clients...),
		status: make(map[string]Status, len(clients)),
	}

	a.mu.Lock()
	for _, c := range m.order {
		m.status[c] = StatusUnaccepted
		a.byClient[c] = m.id
	}
	a.matches[m.id] = m
	m.timer = a.clk.AfterFunc(a.timeout, func() { a.expire(m.id) })
	a.mu.Unlock()

	log.Debug().Str("match", m.id).Int("clients", len(m.order)).Msg("Match added")

	return nil
}

// HasActiveMatch reports whether the client is part of an active match.
func (a *Acceptor) HasActiveMatch(client string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.byClient[client]
	return ok
}

// RegisterAccept records that a client accepted their match, if any, and
// reports whether an active match existed. Re-accepting is a no-op that
// emits nothing. The acceptance completing the match finalizes it and fires
// OnAccepted; otherwise OnAcceptProgress fires for a first-time acceptance.
func (a *Acceptor) RegisterAccept(client string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byClient[client]
	if !ok {
		return false
	}

	m := a.matches[id]
	changed := m.status[client] != StatusAccepted
	m.status[client] = StatusAccepted
	accepted := m.countAccepted()

	if accepted < len(m.order) {
		if changed {
			a.dispatch(m, func() error {
				return a.notifyProgress(m.info, len(m.order), accepted)
			})
		}
		return true
	}

	a.finalizeLocked(m)

	log.Debug().Str("match", m.id).Msg("Match accepted by all clients")
	a.dispatch(m, func() error {
		return a.notifyAccepted(m.info, append([]string(nil), m.order...))
	})

	return true
}

// RegisterDisconnect records that a client disconnected and will not be
// accepting their match, if any; reports whether an active match existed.
// The match is declined immediately: clients whose final status is not
// Disconnected are requeued, the rest are kicked.
func (a *Acceptor) RegisterDisconnect(client string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.byClient[client]
	if !ok {
		return false
	}

	m := a.matches[id]
	m.status[client] = StatusDisconnected
	a.finalizeLocked(m)
	requeue, kick := m.partition(func(s Status) bool { return s != StatusDisconnected })

	log.Debug().Str("match", m.id).Str("client", client).Msg("Match declined by disconnect")
	a.decline(m, requeue, kick)

	return true
}

// expire is the accept timer callback. The match may already have been
// finalized in the window between the timer firing and the lock being taken,
// in which case this is a no-op.
func (a *Acceptor) expire(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.matches[id]
	if !ok {
		return
	}

	a.finalizeLocked(m)
	requeue, kick := m.partition(func(s Status) bool { return s == StatusAccepted })

	log.Debug().Str("match", m.id).Msg("Match declined by timeout")
	a.decline(m, requeue, kick)
}

// finalizeLocked removes the match from storage and the reverse index and
// stops its timer. Must hold a.mu. Stopping the timer is best-effort; the
// presence check in expire is the authoritative guard against a stale fire.
func (a *Acceptor) finalizeLocked(m *match) {
	delete(a.matches, m.id)
	for _, c := range m.order {
		delete(a.byClient, c)
	}
	if m.timer != nil {
		m.timer.Stop()
	}
}

func (a *Acceptor) decline(m *match, requeue, kick []string) {
	a.dispatch(m, func() error {
		return a.notifyDeclined(m.info, requeue, kick)
	})
}

// dispatch invokes a notification after state has been committed, isolating
// any failure or panic into the error handler.
func (a *Acceptor) dispatch(m *match, notify func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.fail(fmt.Errorf("notification handler panic: %v", r), m)
		}
	}()

	if err := notify(); err != nil {
		a.fail(err, m)
	}
}

func (a *Acceptor) fail(err error, m *match) {
	if a.handlers.OnError == nil {
		log.Error().Err(err).Str("match", m.id).Msg("Match notification failed")
		return
	}
	a.handlers.OnError(err, append([]string(nil), m.order...))
}

func (a *Acceptor) notifyProgress(info any, total, accepted int) error {
	if a.handlers.OnAcceptProgress == nil {
		return nil
	}
	return a.handlers.OnAcceptProgress(info, total, accepted)
}

func (a *Acceptor) notifyAccepted(info any, clients []string) error {
	if a.handlers.OnAccepted == nil {
		return nil
	}
	return a.handlers.OnAccepted(info, clients)
}

func (a *Acceptor) notifyDeclined(info any, requeue, kick []string) error {
	if a.handlers.OnDeclined == nil {
		return nil
	}
	return a.handlers.OnDeclined(info, requeue, kick)
}
