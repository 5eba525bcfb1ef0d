package xhub_test

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xhub/adapter/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder is an Observer keeping every RelayEvent it sees.
type recorder struct {
	mu     sync.Mutex
	events []xhub.RelayEvent
}

func (r *recorder) OnRelayEvent(e xhub.RelayEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) find(typ xhub.EventType) []xhub.RelayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []xhub.RelayEvent
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) first(typ xhub.EventType) (xhub.RelayEvent, bool) {
	got := r.find(typ)
	if len(got) == 0 {
		return xhub.RelayEvent{}, false
	}
	return got[0], true
}

// inbox collects raises of one event on a connector.
type inbox struct {
	mu    sync.Mutex
	items []received
}

type received struct {
	data        xhub.Payload
	destination string
	envelope    xhub.Envelope
}

func listen(t *testing.T, ev *xhub.Event) *inbox {
	t.Helper()
	in := &inbox{}
	_, err := ev.AddListener(func(ctx context.Context, data xhub.Payload, dest string) error {
		env, _ := xhub.EnvelopeFromContext(ctx)
		in.mu.Lock()
		in.items = append(in.items, received{data: data, destination: dest, envelope: env})
		in.mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return in
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

func (in *inbox) at(i int) received {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.items[i]
}

func startHub(t *testing.T, services ...string) (*xhub.Hub, *recorder) {
	t.Helper()
	rec := &recorder{}
	hub := memory.UseHub(memory.Config{},
		memory.WithServices(services...),
		memory.WithObserver(rec),
	)
	require.NoError(t, hub.Run(context.Background(), 0))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })
	return hub, rec
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

// dialPeer runs a peer against hub as name and waits for the connection to open.
func dialPeer(t *testing.T, hub *xhub.Hub, name string, opts ...memory.Option) (*xhub.Peer, *recorder) {
	t.Helper()
	rec := &recorder{}
	peer := memory.UsePeer(memory.Config{}, append(opts, memory.WithObserver(rec))...)
	t.Cleanup(func() { _ = peer.Stop(context.Background()) })

	require.NoError(t, peer.Run(context.Background(), portOf(t, hub.Addr()), name, ""))
	select {
	case <-peer.Ready():
	case <-time.After(waitFor):
		t.Fatalf("peer %s did not connect", name)
	}
	return peer, rec
}

// rawHandler drives a bare transport connection, bypassing Peer.
type rawHandler struct {
	received chan []byte
	closed   chan int
}

func newRawHandler() *rawHandler {
	return &rawHandler{received: make(chan []byte, 16), closed: make(chan int, 1)}
}

func (h *rawHandler) Accept(xhub.Conn) error { return nil }

func (h *rawHandler) Receive(_ xhub.Conn, text []byte) { h.received <- text }

func (h *rawHandler) Closed(_ xhub.Conn, code int, _ string) { h.closed <- code }

func itoa(n int) string { return strconv.Itoa(n) }
