package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/muster/internal/models"
)

func testHubClient(name string) *hubClient {
	return &hubClient{
		name: name,
		send: make(chan models.Envelope, 2),
		done: make(chan struct{}),
	}
}

func TestHubAddRemove(t *testing.T) {
	h := newHub()
	c := testHubClient("alice")

	require.NoError(t, h.add(c))
	assert.True(t, h.connected("alice"))

	assert.ErrorIs(t, h.add(testHubClient("alice")), ErrDuplicateClient)

	h.remove("alice")
	assert.False(t, h.connected("alice"))

	// Remove is idempotent
	h.remove("alice")
}

func TestHubPublish(t *testing.T) {
	h := newHub()
	c := testHubClient("alice")
	c.country = "SE"
	require.NoError(t, h.add(c))

	require.NoError(t, h.Publish("alice", "topic/a", 42))

	env := <-c.send
	assert.Equal(t, "topic/a", env.Topic)
	assert.Equal(t, 42, env.Data)

	assert.Equal(t, "SE", h.country("alice"))
	assert.Empty(t, h.country("bob"))
}

func TestHubPublishUnknownClient(t *testing.T) {
	h := newHub()

	assert.ErrorIs(t, h.Publish("ghost", "topic/a", nil), ErrClientGone)
}

func TestHubPublishFullBuffer(t *testing.T) {
	h := newHub()
	c := testHubClient("alice")
	require.NoError(t, h.add(c))

	require.NoError(t, h.Publish("alice", "t", 1))
	require.NoError(t, h.Publish("alice", "t", 2))

	// Buffer holds two frames; the third must not block
	assert.Error(t, h.Publish("alice", "t", 3))
}
