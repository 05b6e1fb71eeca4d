package rallypoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type publishCall struct {
	client string
	topic  string
	data   any
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(client, topic string, data any) error {
	p.calls = append(p.calls, publishCall{client, topic, data})
	return p.err
}

func TestBroadcasterPublishesOncePerConnection(t *testing.T) {
	servers := testServers()
	pub := &fakePublisher{}
	b := NewBroadcaster(servers, pub)

	b.ClientConnected("alice")
	b.ClientConnected("bob")

	assert.Len(t, pub.calls, 2)
	assert.Equal(t, publishCall{"alice", ServersTopic, servers}, pub.calls[0])
	assert.Equal(t, publishCall{"bob", ServersTopic, servers}, pub.calls[1])
}

func TestBroadcasterDeliveryFailureNotRetried(t *testing.T) {
	pub := &fakePublisher{err: errors.New("transport broken")}
	b := NewBroadcaster(testServers(), pub)

	b.ClientConnected("alice")

	assert.Len(t, pub.calls, 1, "a failed delivery is not retried")
}
