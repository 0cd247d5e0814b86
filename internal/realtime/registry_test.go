package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReconnectKeepsLatest(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn("c1")
	second := newFakeConn("c2")

	r.Attach(first)
	assert.Nil(t, r.Register("alice", first))
	r.Attach(second)
	prev := r.Register("alice", second)
	require.NotNil(t, prev)
	assert.Equal(t, "c1", prev.ID())

	assert.Equal(t, []string{"alice"}, r.Online())
	c, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", c.ID())

	// The old connection closing late must not evict the new one.
	userID, wasCurrent := r.Unregister(first)
	assert.False(t, wasCurrent)
	assert.Empty(t, userID)
	assert.True(t, r.IsOnline("alice"))

	userID, wasCurrent = r.Unregister(second)
	assert.True(t, wasCurrent)
	assert.Equal(t, "alice", userID)
	_, ok = r.Lookup("alice")
	assert.False(t, ok)

	conns, users := r.Count()
	assert.Zero(t, conns)
	assert.Zero(t, users)
}

func TestRegistryReregisterAsOtherUser(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1")

	r.Register("alice", c)
	r.Register("bob", c)

	assert.False(t, r.IsOnline("alice"))
	userID, ok := r.UserFor(c)
	require.True(t, ok)
	assert.Equal(t, "bob", userID)
}

func TestRegistryAttachedButUnregistered(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c1")
	r.Attach(c)

	conns, users := r.Count()
	assert.Equal(t, 1, conns)
	assert.Zero(t, users)
	assert.Empty(t, r.Online())

	_, wasCurrent := r.Unregister(c)
	assert.False(t, wasCurrent)
	assert.Empty(t, r.Conns())
}

func TestRegistryOnlineSorted(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"carol", "alice", "bob"} {
		r.Register(u, newFakeConn("conn-"+u))
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Online())
}

func TestRegistryConcurrentReconnects(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			r.Attach(c)
			r.Register("alice", c)
			if i%2 == 0 {
				r.Unregister(c)
			}
		}(i)
	}
	wg.Wait()

	_, users := r.Count()
	assert.LessOrEqual(t, users, 1)
	if c, ok := r.Lookup("alice"); ok {
		userID, ok := r.UserFor(c)
		require.True(t, ok)
		assert.Equal(t, "alice", userID)
	}
}
