package gateway_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/connection-gateway/internal/gateway"
	"github.com/aelexs/connection-gateway/internal/observability"
	"github.com/aelexs/connection-gateway/pkg/protocol"
)

var errTransportClosed = errors.New("use of closed transport")

// fakeTransport is an in-memory Transport. Inbound frames are pushed with
// push; everything the gateway writes is recorded and signalled on written.
type fakeTransport struct {
	inbound  chan []byte
	readErrs chan error
	closed   chan struct{}
	once     sync.Once

	// block, when set, holds every WriteMessage until it is closed or the
	// transport is closed. writeStarted is signalled on entry.
	block        chan struct{}
	writeStarted chan struct{}

	written chan []byte

	mu         sync.Mutex
	writes     [][]byte
	controls   []int
	closeFrame []byte
}

var _ gateway.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:      make(chan []byte, 64),
		readErrs:     make(chan error, 1),
		closed:       make(chan struct{}),
		writeStarted: make(chan struct{}, 1),
		written:      make(chan []byte, 1024),
	}
}

func (f *fakeTransport) push(payload string) { f.inbound <- []byte(payload) }

func (f *fakeTransport) peerClose(code int) {
	f.readErrs <- &websocket.CloseError{Code: code}
}

func (f *fakeTransport) failRead(err error) { f.readErrs <- err }

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case p := <-f.inbound:
		return websocket.TextMessage, p, nil
	case err := <-f.readErrs:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	if f.block != nil {
		select {
		case f.writeStarted <- struct{}{}:
		default:
		}
		select {
		case <-f.block:
		case <-f.closed:
			return errTransportClosed
		}
	}
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}

	f.mu.Lock()
	f.writes = append(f.writes, data)
	f.mu.Unlock()
	f.written <- data
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	if messageType == websocket.CloseMessage {
		f.closeFrame = data
	}
	return nil
}

func (f *fakeTransport) SetReadLimit(int64)                        {}
func (f *fakeTransport) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeTransport) SetPongHandler(func(appData string) error) {}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// closeCode returns the code of the close frame written, or 0 if none was.
func (f *fakeTransport) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closeFrame) < 2 {
		return 0
	}
	return int(f.closeFrame[0])<<8 | int(f.closeFrame[1])
}

func (f *fakeTransport) writesSnapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// nextFrame waits for the next frame written to f.
func nextFrame(t *testing.T, f *fakeTransport) *protocol.Frame {
	t.Helper()
	select {
	case raw := <-f.written:
		frame, err := protocol.Decode(raw)
		require.NoError(t, err)
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// nextRaw waits for the next raw payload written to f.
func nextRaw(t *testing.T, f *fakeTransport) string {
	t.Helper()
	select {
	case raw := <-f.written:
		return string(raw)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return ""
	}
}

// newTestGateway creates a gateway with short timings and shuts it down
// when the test ends.
func newTestGateway(t *testing.T, opts gateway.Options) *gateway.Gateway {
	t.Helper()
	if opts.CloseGracePeriod == 0 {
		opts.CloseGracePeriod = 200 * time.Millisecond
	}
	if opts.WriteWait == 0 {
		opts.WriteWait = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	gw := gateway.New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, gw.Shutdown(ctx))
	})
	return gw
}

// adopt registers a fake transport and consumes its connection_ack.
func adopt(t *testing.T, gw *gateway.Gateway, ft *fakeTransport) *gateway.Connection {
	t.Helper()
	c, err := gw.Adopt(ft)
	require.NoError(t, err)
	ack := nextFrame(t, ft)
	require.Equal(t, protocol.FrameTypeConnectionAck, ack.Type)
	return c
}

func waitDone(t *testing.T, c *gateway.Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("connection %s did not close", c.ID())
	}
}

var errWriteBroken = errors.New("broken pipe")

// brokenTransport fails every write. Close wakes the reader and then stalls,
// so the reader sees its error while the writer is still finalizing.
type brokenTransport struct {
	*fakeTransport
	closeDelay time.Duration
}

func newBrokenTransport() *brokenTransport {
	return &brokenTransport{fakeTransport: newFakeTransport(), closeDelay: 100 * time.Millisecond}
}

func (b *brokenTransport) WriteMessage(int, []byte) error { return errWriteBroken }

func (b *brokenTransport) Close() error {
	_ = b.fakeTransport.Close()
	time.Sleep(b.closeDelay)
	return nil
}
