package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBindAndLookup(t *testing.T) {
	r := New()
	userID := uuid.New()

	r.Bind("conn-1", userID)

	got, ok := r.UserOf("conn-1")
	assert.True(t, ok)
	assert.Equal(t, userID, got)
	assert.True(t, r.HasConnections(userID))
	assert.Equal(t, []string{"conn-1"}, r.ConnectionsFor(userID))
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	r := New()
	userID := uuid.New()

	r.Bind("conn-1", userID)
	r.Bind("conn-2", userID)

	assert.Len(t, r.ConnectionsFor(userID), 2)

	r.Unbind("conn-1")
	assert.Equal(t, []string{"conn-2"}, r.ConnectionsFor(userID))
	assert.True(t, r.HasConnections(userID))

	r.Unbind("conn-2")
	assert.False(t, r.HasConnections(userID))
	assert.Nil(t, r.ConnectionsFor(userID))
}

func TestRebindMovesConnection(t *testing.T) {
	r := New()
	first := uuid.New()
	second := uuid.New()

	r.Bind("conn-1", first)
	r.Bind("conn-1", second)

	assert.False(t, r.HasConnections(first))
	assert.True(t, r.HasConnections(second))

	got, ok := r.UserOf("conn-1")
	assert.True(t, ok)
	assert.Equal(t, second, got)
}

func TestUnbindUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unbind("ghost")

	_, ok := r.UserOf("ghost")
	assert.False(t, ok)
}

func TestCallBinding(t *testing.T) {
	r := New()
	userID := uuid.New()
	callID := uuid.New()

	// Unidentified connections cannot carry a call
	r.SetCall("conn-1", callID)
	_, ok := r.CallOf("conn-1")
	assert.False(t, ok)

	r.Bind("conn-1", userID)
	r.SetCall("conn-1", callID)

	got, ok := r.CallOf("conn-1")
	assert.True(t, ok)
	assert.Equal(t, callID, got)

	r.ClearCall("conn-1")
	_, ok = r.CallOf("conn-1")
	assert.False(t, ok)
}

func TestUnbindClearsCall(t *testing.T) {
	r := New()
	userID := uuid.New()
	callID := uuid.New()

	r.Bind("conn-1", userID)
	r.SetCall("conn-1", callID)
	r.Unbind("conn-1")

	_, ok := r.CallOf("conn-1")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			r.Bind(connID, userID)
			r.ConnectionsFor(userID)
			r.Unbind(connID)
		}(i)
	}
	wg.Wait()

	assert.False(t, r.HasConnections(userID))
}
