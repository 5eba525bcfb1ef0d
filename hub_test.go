package xhub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xhub"
	"github.com/trickstertwo/xhub/adapter/memory"
)

func TestHub_RelaysBetweenPeers(t *testing.T) {
	hub, hubRec := startHub(t, "Orders", "Billing")
	orders, _ := dialPeer(t, hub, "Orders")
	billing, _ := dialPeer(t, hub, "Billing")

	got := listen(t, billing.Event("OrderCreated"))
	orders.Event("OrderCreated").Raise(context.Background(), xhub.MustPayload(map[string]any{"id": "o-1"}), "Billing")

	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	r := got.at(0)
	assert.JSONEq(t, `{"id":"o-1"}`, r.data.String())
	assert.Empty(t, r.destination)
	assert.Equal(t, "Orders", r.envelope.Origin)
	assert.Equal(t, "OrderCreated", r.envelope.EventID)
	assert.NotEmpty(t, r.envelope.ID)

	routed, ok := hubRec.first(xhub.EnvelopeRouted)
	require.True(t, ok)
	assert.Equal(t, "Billing", routed.Service)
	assert.Equal(t, "Orders", routed.Origin)
	assert.Equal(t, []string{"Billing", "Orders"}, hub.Connected())
}

func TestHub_RoundTripReply(t *testing.T) {
	hub, _ := startHub(t, "Orders", "Billing")
	orders, _ := dialPeer(t, hub, "Orders")
	billing, _ := dialPeer(t, hub, "Billing")

	_, err := billing.Event("OrderCreated").AddListener(func(ctx context.Context, data xhub.Payload, _ string) error {
		env, _ := xhub.EnvelopeFromContext(ctx)
		billing.Event("InvoiceIssued").Raise(ctx, data, env.Origin)
		return nil
	})
	require.NoError(t, err)
	invoices := listen(t, orders.Event("InvoiceIssued"))

	for i := 0; i < 20; i++ {
		orders.Event("OrderCreated").Raise(context.Background(), xhub.MustPayload(i), "Billing")
	}

	require.Eventually(t, func() bool { return invoices.len() == 20 }, waitFor, tick)
	for i := 0; i < 20; i++ {
		got, err := xhub.Decode[int](invoices.at(i).data)
		require.NoError(t, err)
		assert.Equal(t, i, got, "per-connection order is preserved")
	}
}

func TestHub_RejectsUnregisteredService(t *testing.T) {
	hub, hubRec := startHub(t, "Orders")
	ghost, rec := dialPeer(t, hub, "Ghost")

	require.Eventually(t, func() bool { return ghost.State() == xhub.StateClosed }, waitFor, tick)
	closed, ok := rec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseNotRegistered, closed.Code)
	assert.Equal(t, xhub.ErrNotRegistered.Error(), closed.Reason)

	rejected, ok := hubRec.first(xhub.ConnRejected)
	require.True(t, ok)
	assert.Equal(t, "Ghost", rejected.Service)
	assert.ErrorIs(t, rejected.Err, xhub.ErrNotRegistered)

	var herr *xhub.HandshakeError
	require.ErrorAs(t, rejected.Err, &herr)
	assert.Equal(t, "Ghost", herr.Service)
	assert.Empty(t, hub.Connected())
}

func TestHub_RejectsDuplicateServiceName(t *testing.T) {
	hub, hubRec := startHub(t, "Svc", "Caller")
	first, _ := dialPeer(t, hub, "Svc")
	second, secondRec := dialPeer(t, hub, "Svc")

	require.Eventually(t, func() bool { return second.State() == xhub.StateClosed }, waitFor, tick)
	closed, ok := secondRec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseAlreadyConnected, closed.Code)
	assert.Equal(t, xhub.AlreadyConnectedReason, closed.Reason)

	rejected, ok := hubRec.first(xhub.ConnRejected)
	require.True(t, ok)
	assert.ErrorIs(t, rejected.Err, xhub.ErrAlreadyConnected)

	// the first connection keeps working
	assert.Equal(t, xhub.StateOpen, first.State())
	assert.Equal(t, []string{"Svc"}, hub.Connected())

	caller, _ := dialPeer(t, hub, "Caller")
	got := listen(t, first.Event("ping"))
	caller.Event("ping").Raise(context.Background(), xhub.Payload{}, "Svc")
	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
}

func TestHub_RejectsItsOwnName(t *testing.T) {
	hub, _ := startHub(t)
	impostor, rec := dialPeer(t, hub, xhub.DefaultHubName)

	require.Eventually(t, func() bool { return impostor.State() == xhub.StateClosed }, waitFor, tick)
	closed, ok := rec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseAlreadyConnected, closed.Code)
}

func TestHub_RejectsMissingHandshake(t *testing.T) {
	hub, hubRec := startHub(t, "Orders")
	tr := memory.NewTransport(memory.Config{})
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	h := newRawHandler()
	_, err := tr.Dial(context.Background(), hub.Addr(), map[string]string{xhub.ParamService: "Orders"}, h)
	require.NoError(t, err)

	select {
	case code := <-h.closed:
		assert.Equal(t, xhub.CloseMissingHandshake, code)
	case <-time.After(waitFor):
		t.Fatal("connection was not closed")
	}
	rejected, ok := hubRec.first(xhub.ConnRejected)
	require.True(t, ok)
	assert.ErrorIs(t, rejected.Err, xhub.ErrMissingHandshake)
}

func TestHub_BroadcastReachesEveryoneButSender(t *testing.T) {
	hub, _ := startHub(t, "A", "B", "C")
	a, _ := dialPeer(t, hub, "A")
	b, _ := dialPeer(t, hub, "B")
	c, _ := dialPeer(t, hub, "C")

	atA := listen(t, a.Event("Tick"))
	atB := listen(t, b.Event("Tick"))
	atC := listen(t, c.Event("Tick"))
	atHub := listen(t, hub.Event("Tick"))

	a.Event("Tick").Raise(context.Background(), xhub.MustPayload("t"), xhub.BroadcastDestination)

	require.Eventually(t, func() bool {
		return atB.len() == 1 && atC.len() == 1 && atHub.len() == 1
	}, waitFor, tick)
	assert.Equal(t, "A", atB.at(0).envelope.Origin)
	assert.Equal(t, "A", atHub.at(0).envelope.Origin)

	// A saw its own local raise only; nothing echoes back.
	require.Never(t, func() bool { return atA.len() > 1 }, 100*time.Millisecond, tick)
	assert.Equal(t, xhub.BroadcastDestination, atA.at(0).destination)
}

func TestHub_DeliversEnvelopesAddressedToItself(t *testing.T) {
	hub, hubRec := startHub(t, "A")
	a, _ := dialPeer(t, hub, "A")
	got := listen(t, hub.Event("Ping"))

	a.Event("Ping").Raise(context.Background(), xhub.MustPayload(1), hub.Name())

	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	assert.Equal(t, "A", got.at(0).envelope.Origin)
	assert.Empty(t, got.at(0).destination)
	_, ok := hubRec.first(xhub.EnvelopeDelivered)
	assert.True(t, ok)
}

func TestHub_SendsToPeer(t *testing.T) {
	hub, _ := startHub(t, "A")
	a, _ := dialPeer(t, hub, "A")
	got := listen(t, a.Event("Notice"))

	hub.Event("Notice").Raise(context.Background(), xhub.MustPayload("hello"), "A")

	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	assert.Equal(t, xhub.DefaultHubName, got.at(0).envelope.Origin)
	assert.Equal(t, `"hello"`, got.at(0).data.String())
}

func TestHub_DropsUnknownDestination(t *testing.T) {
	hub, hubRec := startHub(t, "A")
	a, _ := dialPeer(t, hub, "A")

	a.Event("Ping").Raise(context.Background(), xhub.Payload{}, "Nobody")

	require.Eventually(t, func() bool { return len(hubRec.find(xhub.EnvelopeDropped)) == 1 }, waitFor, tick)
	dropped, _ := hubRec.first(xhub.EnvelopeDropped)
	assert.Equal(t, "Nobody", dropped.Destination)
	assert.Equal(t, xhub.StateOpen, a.State())
	assert.EqualValues(t, 1, hub.GetMetrics().Dropped)
}

func TestHub_IgnoresEnvelopeWithoutDestination(t *testing.T) {
	hub, hubRec := startHub(t, "A")
	a, _ := dialPeer(t, hub, "A")
	got := listen(t, hub.Event("Ping"))

	require.NoError(t, a.Send(context.Background(), xhub.Envelope{EventID: "Ping"}))

	require.Eventually(t, func() bool { return len(hubRec.find(xhub.EnvelopeIgnored)) == 1 }, waitFor, tick)
	assert.Zero(t, got.len())
}

func TestHub_DiscardsMalformedMessages(t *testing.T) {
	hub, hubRec := startHub(t, "Raw")
	tr := memory.NewTransport(memory.Config{})
	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	conn, err := tr.Dial(context.Background(), hub.Addr(), map[string]string{
		xhub.ParamService: "Raw",
		xhub.ParamID:      "raw-1",
	}, newRawHandler())
	require.NoError(t, err)

	require.NoError(t, conn.Send(context.Background(), []byte("not an envelope")))
	require.NoError(t, conn.Send(context.Background(), []byte(`{"id":"1","origin":"Raw"}`)))

	require.Eventually(t, func() bool { return len(hubRec.find(xhub.DecodeFailed)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"Raw"}, hub.Connected())
	assert.EqualValues(t, 2, hub.GetMetrics().DecodeFailures)
}

func TestHub_DisconnectFreesName(t *testing.T) {
	hub, hubRec := startHub(t, "Svc")
	first, _ := dialPeer(t, hub, "Svc")

	require.NoError(t, first.Stop(context.Background()))
	require.Eventually(t, func() bool { return len(hub.Connected()) == 0 }, waitFor, tick)
	closed, ok := hubRec.first(xhub.ConnClosed)
	require.True(t, ok)
	assert.Equal(t, xhub.CloseNormal, closed.Code)

	again, _ := dialPeer(t, hub, "Svc")
	assert.Equal(t, xhub.StateOpen, again.State())
	assert.Equal(t, []string{"Svc"}, hub.Connected())
}

func TestHub_RegisterServiceAtRuntime(t *testing.T) {
	hub, _ := startHub(t)
	ctx := context.Background()

	require.NoError(t, hub.RegisterService(ctx, "Late"))
	assert.ErrorIs(t, hub.RegisterService(ctx, "Late"), xhub.ErrDuplicateIdentifier)

	names, err := hub.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{xhub.DefaultHubName, "Late"}, names)

	late, _ := dialPeer(t, hub, "Late")
	assert.Equal(t, xhub.StateOpen, late.State())
}

func TestHub_RunTwice(t *testing.T) {
	hub, _ := startHub(t)
	assert.ErrorIs(t, hub.Run(context.Background(), 0), xhub.ErrAlreadyRunning)
}

func TestHub_ListenerFailureIsReported(t *testing.T) {
	hub, hubRec := startHub(t, "A")
	a, _ := dialPeer(t, hub, "A")

	_, err := hub.Event("Ping").AddListener(func(context.Context, xhub.Payload, string) error {
		return errors.New("handler failed")
	}, "failing")
	require.NoError(t, err)
	after := listen(t, hub.Event("Ping"))

	a.Event("Ping").Raise(context.Background(), xhub.Payload{}, hub.Name())

	require.Eventually(t, func() bool { return after.len() == 1 }, waitFor, tick)
	failed, ok := hubRec.first(xhub.ListenerFailed)
	require.True(t, ok)
	assert.Equal(t, "failing", failed.Reason)
	assert.Equal(t, "Ping", failed.EventID)
}

func TestHub_Health(t *testing.T) {
	hub, _ := startHub(t, "A")
	dialPeer(t, hub, "A")

	h := hub.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.Metrics.LiveConnections)

	require.NoError(t, hub.Stop(context.Background()))
	assert.Equal(t, "unhealthy", hub.Health(context.Background()).Status)
}
