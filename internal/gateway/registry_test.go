package gateway

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/observability"
)

func testConn() *Connection {
	return &Connection{id: domain.GenerateConnectionID()}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c1, c2 := testConn(), testConn()

	require.True(t, r.Insert(c1))
	require.True(t, r.Insert(c2))
	assert.False(t, r.Insert(c1), "duplicate insert must be refused")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(c1.id)
	require.True(t, ok)
	assert.Same(t, c1, got)

	assert.True(t, r.Remove(c1.id))
	assert.False(t, r.Remove(c1.id))
	_, ok = r.Get(c1.id)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	c1, c2 := testConn(), testConn()
	r.Insert(c1)
	r.Insert(c2)

	snap := r.Snapshot()
	r.Remove(c1.id)

	assert.Len(t, snap, 2)
	assert.ElementsMatch(t, []*Connection{c1, c2}, snap)
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c := testConn()
				r.Insert(c)
				_ = r.Snapshot()
				_, _ = r.Get(c.id)
				r.Remove(c.id)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

// closeCountingTransport only supports Close; open must not touch anything
// else on a refused connection.
type closeCountingTransport struct {
	Transport
	closes atomic.Int32
}

func (t *closeCountingTransport) Close() error {
	t.closes.Add(1)
	return nil
}

func TestOpen_RefusesDuplicateID(t *testing.T) {
	gw := New(Options{Logger: observability.Discard()})
	c := newConnection(gw, "127.0.0.1:1")
	existing := &Connection{id: c.id}
	require.True(t, gw.registry.Insert(existing))

	tr := &closeCountingTransport{}
	err := gw.open(c, tr)

	require.ErrorIs(t, err, domain.ErrUpgradeRejected)
	assert.ErrorIs(t, err, domain.ErrDuplicateConnection)
	assert.Equal(t, domain.StateClosed, c.State())
	assert.Equal(t, int32(1), tr.closes.Load())
	assert.Equal(t, 1, gw.Len())

	got, ok := gw.registry.Get(c.id)
	require.True(t, ok)
	assert.Same(t, existing, got)

	select {
	case <-c.Done():
	default:
		t.Fatal("refused connection should be done")
	}
}
