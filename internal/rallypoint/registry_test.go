package rallypoint

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServers() []Server {
	return []Server{
		{Address4: "192.0.2.1", Port: 14098},
		{Address4: "192.0.2.2", Port: 14098},
		{Address6: "2001:db8::3", Port: 14099},
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry(testServers())

	require.NoError(t, r.AddPing("alice", 2, 45))
	require.NoError(t, r.AddPing("alice", 0, 12.5))
	require.NoError(t, r.AddPing("bob", 2, 80))

	assert.Equal(t, map[int]float64{0: 12.5, 2: 45}, r.Pings("alice"))
	assert.Equal(t, map[int]float64{2: 80}, r.Pings("bob"))
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(testServers())

	require.NoError(t, r.AddPing("alice", 1, 100))
	require.NoError(t, r.AddPing("alice", 1, 33))

	assert.Equal(t, map[int]float64{1: 33}, r.Pings("alice"))
}

func TestRegistryRejectsBadSubmissions(t *testing.T) {
	r := NewRegistry(testServers())

	assert.ErrorIs(t, r.AddPing("alice", 3, 45), ErrServerIndex)
	assert.ErrorIs(t, r.AddPing("alice", -1, 45), ErrServerIndex)
	assert.ErrorIs(t, r.AddPing("alice", 1, -0.1), ErrPingValue)

	// Nothing mutated by rejected submissions
	assert.Nil(t, r.Pings("alice"))
}

func TestRegistryClearPings(t *testing.T) {
	r := NewRegistry(testServers())

	require.NoError(t, r.AddPing("alice", 0, 20))
	require.NoError(t, r.AddPing("bob", 0, 30))

	r.ClearPings("alice")

	assert.Nil(t, r.Pings("alice"))
	assert.Equal(t, map[int]float64{0: 30}, r.Pings("bob"), "other clients untouched")
}

func TestRegistryServersSnapshot(t *testing.T) {
	servers := testServers()
	r := NewRegistry(servers)

	snap := r.Servers()
	require.Equal(t, servers, snap)

	// Mutating the snapshot must not leak into the registry
	snap[0].Address4 = "changed"
	assert.Equal(t, servers[0], r.Servers()[0])
}

func TestRegistryConcurrentClients(t *testing.T) {
	r := NewRegistry(testServers())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		client := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 0; p < 50; p++ {
				assert.NoError(t, r.AddPing(client, p%3, float64(p)))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		client := string(rune('a' + i))
		assert.Equal(t, map[int]float64{0: 48, 1: 49, 2: 47}, r.Pings(client))
	}
}
