package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/iface"
	"github.com/go-i2p/go-rns/lib/link"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventually = 2 * time.Second

// recorder is an interface that keeps everything sent on it.
type recorder struct {
	id   string
	mu   sync.Mutex
	sent [][]byte
}

func newRecorder(id string) *recorder {
	return &recorder{id: id}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), raw...))
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) packets(t *testing.T) []*packet.Packet {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*packet.Packet, 0, len(r.sent))
	for _, raw := range r.sent {
		p, err := packet.Decode(raw)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func newTestTransport(t *testing.T, cfg *config.NodeConfig, opts ...Option) *Transport {
	t.Helper()
	tr, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func relayConfig() *config.NodeConfig {
	cfg := config.DefaultNodeConfig()
	cfg.Transport.Enabled = true
	return cfg
}

func connect(t *testing.T, a, b *Transport, aID, bID string) (*iface.Pipe, *iface.Pipe) {
	t.Helper()
	pa, pb := iface.NewPipe(aID, bID)
	require.NoError(t, a.AddInterface(pa))
	require.NoError(t, b.AddInterface(pb))
	return pa, pb
}

func newChatDestination(t *testing.T) *destination.Destination {
	t.Helper()
	id, err := identity.New()
	require.NoError(t, err)
	d, err := destination.New(id, destination.In, packet.Single, "app", "chat")
	require.NoError(t, err)
	return d
}

func encodeAnnounce(t *testing.T, d *destination.Destination, hops byte) []byte {
	t.Helper()
	p, err := d.Announce(nil)
	require.NoError(t, err)
	p.Hops = hops
	raw, err := p.Encode()
	require.NoError(t, err)
	return raw
}

// learnPath announces local from b and waits until a has a path to it.
func learnPath(t *testing.T, a, b *Transport, local *destination.Destination) *destination.Destination {
	t.Helper()
	require.NoError(t, b.AnnounceNow(local))
	require.Eventually(t, func() bool { return a.HasPath(local.Hash()) }, eventually, 5*time.Millisecond)
	path, ok := a.LookupPath(local.Hash())
	require.True(t, ok)
	remote, err := destination.New(path.Identity, destination.Out, packet.Single, "app", "chat")
	require.NoError(t, err)
	require.Equal(t, local.Hash(), remote.Hash())
	return remote
}

func nextEvent(t *testing.T, ch <-chan link.Event, typ link.EventType) link.Event {
	t.Helper()
	timeout := time.After(eventually)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHelloOverPipe(t *testing.T) {
	a := newTestTransport(t, nil)
	b := newTestTransport(t, nil)
	connect(t, a, b, "a0", "b0")

	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))
	aEvents, stopA := a.SubscribeLinkEvents()
	defer stopA()
	bEvents, stopB := b.SubscribeLinkEvents()
	defer stopB()

	remote := learnPath(t, a, b, local)
	path, _ := a.LookupPath(local.Hash())
	assert.Equal(t, 0, path.Hops)
	assert.True(t, path.NextHop.IsZero())
	assert.Equal(t, "a0", path.Interface)
	assert.Len(t, a.Paths(), 1)

	h, err := a.OpenLink(testContext(t), remote)
	require.NoError(t, err)
	assert.Equal(t, link.StateActive, h.State())
	assert.Equal(t, h.ID(), nextEvent(t, aEvents, link.EventActivated).LinkID)
	assert.Equal(t, h.ID(), nextEvent(t, bEvents, link.EventActivated).LinkID)

	peer, ok := b.Link(h.ID())
	require.True(t, ok)
	assert.Equal(t, link.StateActive, peer.State())

	require.NoError(t, h.Send([]byte("hello")))
	ev := nextEvent(t, bEvents, link.EventData)
	assert.Equal(t, []byte("hello"), ev.Data)
	select {
	case ev := <-bEvents:
		assert.NotEqual(t, link.EventData, ev.Type, "payload delivered twice")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, peer.Send([]byte("hi back")))
	assert.Equal(t, []byte("hi back"), nextEvent(t, aEvents, link.EventData).Data)
}

func TestLinkTeardown(t *testing.T) {
	a := newTestTransport(t, nil)
	b := newTestTransport(t, nil)
	connect(t, a, b, "a0", "b0")
	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))
	bEvents, stop := b.SubscribeLinkEvents()
	defer stop()

	remote := learnPath(t, a, b, local)
	h, err := a.OpenLink(testContext(t), remote)
	require.NoError(t, err)
	id := h.ID()

	require.NoError(t, h.Close())
	ev := nextEvent(t, bEvents, link.EventClosed)
	assert.Equal(t, id, ev.LinkID)
	assert.Equal(t, link.ReasonInitiatorClosed, ev.Reason)
	require.Eventually(t, func() bool { return b.links.isClosed(id) }, eventually, 5*time.Millisecond)
	_, ok := b.Link(id)
	assert.False(t, ok)

	assert.ErrorIs(t, h.Send([]byte("late")), link.ErrLinkClosed)
	assert.Equal(t, link.StateClosed, h.State())
	assert.True(t, a.links.isClosed(id))
}

func TestMultiHopRelay(t *testing.T) {
	a := newTestTransport(t, nil)
	r := newTestTransport(t, relayConfig())
	b := newTestTransport(t, nil)
	connect(t, a, r, "a0", "r-a")
	connect(t, r, b, "r-b", "b0")

	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))
	bEvents, stop := b.SubscribeLinkEvents()
	defer stop()

	remote := learnPath(t, a, b, local)
	path, _ := a.LookupPath(local.Hash())
	assert.Equal(t, 1, path.Hops)
	assert.Equal(t, r.ID(), path.NextHop)
	assert.Equal(t, 0, r.HopsTo(local.Hash()))

	h, err := a.OpenLink(testContext(t), remote)
	require.NoError(t, err)
	require.NoError(t, h.Send([]byte("hello")))
	assert.Equal(t, []byte("hello"), nextEvent(t, bEvents, link.EventData).Data)
	assert.True(t, r.transit.hasLink(h.ID()))
}

func TestLocalDelivery(t *testing.T) {
	a := newTestTransport(t, nil)
	b := newTestTransport(t, nil)
	connect(t, a, b, "a0", "b0")

	got := make(chan []byte, 4)
	cb := func(data []byte, _ *packet.Packet) { got <- data }

	plain, err := destination.New(nil, destination.In, packet.Plain, "app", "beacon")
	require.NoError(t, err)
	plain.SetPacketCallback(cb)
	require.NoError(t, b.RegisterDestination(plain))

	single := newChatDestination(t)
	single.SetPacketCallback(cb)
	require.NoError(t, b.RegisterDestination(single))

	out, err := destination.New(nil, destination.Out, packet.Plain, "app", "beacon")
	require.NoError(t, err)
	p, err := out.NewPacket([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, a.SubmitOutbound(testContext(t), p))
	select {
	case data := <-got:
		assert.Equal(t, []byte("ping"), data)
	case <-time.After(eventually):
		t.Fatal("plain packet not delivered")
	}

	remote := learnPath(t, a, b, single)
	p, err = remote.NewPacket([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, a.SubmitOutbound(testContext(t), p))
	select {
	case data := <-got:
		assert.Equal(t, []byte("secret"), data)
	case <-time.After(eventually):
		t.Fatal("single packet not delivered")
	}
}

func TestAccessCodes(t *testing.T) {
	coded := func(name, pass string) *config.NodeConfig {
		cfg := config.DefaultNodeConfig()
		cfg.Interfaces = []config.InterfaceConfig{{Name: name, NetworkName: "mesh", Passphrase: pass}}
		return cfg
	}
	bCfg := config.DefaultNodeConfig()
	bCfg.Interfaces = []config.InterfaceConfig{
		{Name: "b0", NetworkName: "mesh", Passphrase: "secret"},
		{Name: "b1", NetworkName: "mesh", Passphrase: "secret"},
	}
	cMetrics := metrics.New()
	a := newTestTransport(t, coded("a0", "secret"))
	b := newTestTransport(t, bCfg)
	c := newTestTransport(t, coded("c0", "wrong"), WithMetrics(cMetrics))
	connect(t, a, b, "a0", "b0")
	connect(t, c, b, "c0", "b1")

	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))
	learnPath(t, a, b, local)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(cMetrics.PacketsDropped.WithLabelValues(metrics.DropAccessCode)) >= 1
	}, eventually, 5*time.Millisecond)
	assert.False(t, c.HasPath(local.Hash()))
}

func TestInterfaceBookkeeping(t *testing.T) {
	tr := newTestTransport(t, nil)
	rec := newRecorder("r0")
	require.NoError(t, tr.AddInterface(rec))
	assert.ErrorIs(t, tr.AddInterface(rec), ErrDuplicateInterface)
	assert.Equal(t, []string{"r0"}, tr.Interfaces())

	d := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 0), "r0"))
	require.True(t, tr.HasPath(d.Hash()))

	require.NoError(t, tr.RemoveInterface("r0"))
	assert.False(t, tr.HasPath(d.Hash()), "paths learned on a removed interface are dropped")
	assert.ErrorIs(t, tr.RemoveInterface("r0"), ErrUnknownInterface)
	assert.ErrorIs(t, tr.IngestInbound([]byte{0, 0}, "r0"), ErrUnknownInterface)
}

func TestRegisterDestination(t *testing.T) {
	tr := newTestTransport(t, nil)
	d := newChatDestination(t)
	require.NoError(t, tr.RegisterDestination(d))
	assert.ErrorIs(t, tr.RegisterDestination(d), ErrDuplicateDestination)

	out, err := destination.New(d.Identity(), destination.Out, packet.Single, "app", "chat")
	require.NoError(t, err)
	assert.ErrorIs(t, tr.RegisterDestination(out), ErrInvalidDestination)
	assert.ErrorIs(t, tr.AnnounceNow(newChatDestination(t)), ErrUnknownDestination)

	assert.True(t, tr.UnregisterDestination(d.Hash()))
	assert.False(t, tr.UnregisterDestination(d.Hash()))
}

func TestClosedTransport(t *testing.T) {
	tr, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	assert.ErrorIs(t, tr.IngestInbound([]byte{0, 0}, "r0"), ErrClosed)
	assert.ErrorIs(t, tr.AddInterface(newRecorder("r0")), ErrClosed)
	_, err = tr.OpenLink(context.Background(), newChatDestination(t))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.Transport.MaxHops = 0
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
