package gorillaws_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xhub/adapter/gorillaws"
)

type recorder struct {
	mu     sync.Mutex
	events []xhub.RelayEvent
}

func (r *recorder) OnRelayEvent(e xhub.RelayEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) first(typ xhub.EventType) (xhub.RelayEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == typ {
			return e, true
		}
	}
	return xhub.RelayEvent{}, false
}

func startHub(t *testing.T, services ...string) (*xhub.Hub, int) {
	t.Helper()
	hub := gorillaws.UseHub(gorillaws.Defaults(), gorillaws.WithServices(services...))
	require.NoError(t, hub.Run(context.Background(), 0))
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })

	_, p, err := net.SplitHostPort(hub.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return hub, port
}

func connect(t *testing.T, port int, name string) (*xhub.Peer, *recorder) {
	t.Helper()
	rec := &recorder{}
	peer := gorillaws.UsePeer(gorillaws.Defaults(), gorillaws.WithObserver(rec))
	t.Cleanup(func() { _ = peer.Stop(context.Background()) })

	require.NoError(t, peer.Run(context.Background(), port, name, "127.0.0.1"))
	select {
	case <-peer.Ready():
	case <-time.After(5 * time.Second):
		t.Fatalf("peer %s did not connect", name)
	}
	return peer, rec
}

func TestWebSocket_RelaysBetweenPeers(t *testing.T) {
	hub, port := startHub(t, "Orders", "Billing")
	orders, _ := connect(t, port, "Orders")
	billing, _ := connect(t, port, "Billing")

	type order struct {
		ID string `json:"id"`
	}
	got := make(chan xhub.Envelope, 1)
	_, err := billing.Event("OrderCreated").AddListener(func(ctx context.Context, data xhub.Payload, _ string) error {
		env, _ := xhub.EnvelopeFromContext(ctx)
		got <- env
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(hub.Connected()) == 2 }, 5*time.Second, 10*time.Millisecond)
	orders.Event("OrderCreated").Raise(context.Background(), xhub.MustPayload(order{ID: "o-1"}), "Billing")

	select {
	case env := <-got:
		assert.Equal(t, "Orders", env.Origin)
		o, err := xhub.Decode[order](env.Payload)
		require.NoError(t, err)
		assert.Equal(t, "o-1", o.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestWebSocket_DuplicateNameIsClosedWith4409(t *testing.T) {
	hub, port := startHub(t, "Svc")
	first, _ := connect(t, port, "Svc")
	second, rec := connect(t, port, "Svc")

	require.Eventually(t, func() bool { return second.State() == xhub.StateClosed }, 5*time.Second, 10*time.Millisecond)
	closed, ok := rec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseAlreadyConnected, closed.Code)
	assert.Equal(t, xhub.AlreadyConnectedReason, closed.Reason)

	assert.Equal(t, xhub.StateOpen, first.State())
	assert.Equal(t, []string{"Svc"}, hub.Connected())
}

func TestWebSocket_PeerStopIsNormalClosure(t *testing.T) {
	hub, port := startHub(t, "A")
	hubRec := &recorder{}
	hub.AddObserver(hubRec)
	a, _ := connect(t, port, "A")

	require.Eventually(t, func() bool { return len(hub.Connected()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Stop(context.Background()))

	require.Eventually(t, func() bool { return len(hub.Connected()) == 0 }, 5*time.Second, 10*time.Millisecond)
	closed, ok := hubRec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseNormal, closed.Code)
}

func TestWebSocket_HealthEndpoint(t *testing.T) {
	_, port := startHub(t)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestWebSocket_DialWithoutHub(t *testing.T) {
	tr, err := gorillaws.NewTransport(gorillaws.Defaults())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = tr.Dial(ctx, addr, map[string]string{xhub.ParamService: "A", xhub.ParamID: "1"}, nil)
	assert.Error(t, err)

	require.NoError(t, tr.Close(context.Background()))
	_, err = tr.Dial(ctx, addr, nil, nil)
	assert.ErrorIs(t, err, gorillaws.ErrTransportClosed)
}

func TestWebSocket_UnregisteredServiceIsClosedWith4403(t *testing.T) {
	_, port := startHub(t, "Orders")
	peer, rec := connect(t, port, "PaymentService")

	require.Eventually(t, func() bool { return peer.State() == xhub.StateClosed }, 5*time.Second, 10*time.Millisecond)
	closed, ok := rec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseNotRegistered, closed.Code)
	assert.Equal(t, xhub.ErrNotRegistered.Error(), closed.Reason)
}

// closeWatcher accepts the dialed side and reports how it was closed.
type closeWatcher struct{ closed chan int }

func (w *closeWatcher) Accept(xhub.Conn) error { return nil }

func (w *closeWatcher) Receive(xhub.Conn, []byte) {}

func (w *closeWatcher) Closed(_ xhub.Conn, code int, _ string) { w.closed <- code }

func TestWebSocket_LongHandshakeValuesKeepTheCloseCode(t *testing.T) {
	_, port := startHub(t, "Orders")
	tr, err := gorillaws.NewTransport(gorillaws.Defaults())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	w := &closeWatcher{closed: make(chan int, 1)}
	_, err = tr.Dial(context.Background(), "127.0.0.1:"+strconv.Itoa(port), map[string]string{
		xhub.ParamID: strings.Repeat("id", 100),
	}, w)
	require.NoError(t, err)

	select {
	case code := <-w.closed:
		assert.Equal(t, xhub.CloseMissingHandshake, code)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed")
	}
}

// acceptAll hands every accepted server-side connection to the test.
type acceptAll struct{ conns chan xhub.Conn }

func (a *acceptAll) Accept(c xhub.Conn) error {
	a.conns <- c
	return nil
}

func (a *acceptAll) Receive(xhub.Conn, []byte) {}

func (a *acceptAll) Closed(xhub.Conn, int, string) {}

func TestWebSocket_CloseClipsLongReason(t *testing.T) {
	server, err := gorillaws.NewTransport(gorillaws.Defaults())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close(context.Background()) })
	h := &acceptAll{conns: make(chan xhub.Conn, 1)}
	addr, err := server.Listen(context.Background(), "127.0.0.1:0", h)
	require.NoError(t, err)

	client, err := gorillaws.NewTransport(gorillaws.Defaults())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	w := &closeWatcher{closed: make(chan int, 1)}
	_, err = client.Dial(context.Background(), addr, map[string]string{xhub.ParamService: "A", xhub.ParamID: "1"}, w)
	require.NoError(t, err)

	var sc xhub.Conn
	select {
	case sc = <-h.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not accept")
	}
	require.NoError(t, sc.Close(4000, strings.Repeat("r", 300)))

	select {
	case code := <-w.closed:
		assert.Equal(t, 4000, code)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed")
	}
}
