package rallypoint

import "github.com/rs/zerolog/log"

// ServersTopic is the per-client topic the server list is published on.
const ServersTopic = "rallyPoint/servers"

// Publisher delivers a payload to one client's subscription topic.
type Publisher interface {
	Publish(client, topic string, data any) error
}

// Broadcaster pushes the resolved server list to each client once at
// connection time. The list is immutable for the process lifetime, so there
// are no live updates and no retries; a delivery failure at connect time is
// the transport layer's concern.
type Broadcaster struct {
	pub     Publisher
	servers []Server
}

// NewBroadcaster creates a broadcaster over the resolved server list.
func NewBroadcaster(servers []Server, pub Publisher) *Broadcaster {
	return &Broadcaster{pub: pub, servers: servers}
}

// ClientConnected publishes the server list to a newly connected client.
func (b *Broadcaster) ClientConnected(client string) {
	if err := b.pub.Publish(client, ServersTopic, b.servers); err != nil {
		log.Debug().Err(err).Str("client", client).Msg("Server list delivery failed")
	}
}
