package transport

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateAnnounceSuppressed(t *testing.T) {
	m := metrics.New()
	tr := newTestTransport(t, relayConfig(), WithMetrics(m))
	in, out := newRecorder("in"), newRecorder("out")
	require.NoError(t, tr.AddInterface(in))
	require.NoError(t, tr.AddInterface(out))

	d := newChatDestination(t)
	raw := encodeAnnounce(t, d, 0)
	require.NoError(t, tr.IngestInbound(raw, "in"))
	require.True(t, tr.HasPath(d.Hash()))
	require.Equal(t, 1, out.count())
	assert.Equal(t, 0, in.count(), "announce echoed on the receiving interface")

	relayed := out.packets(t)[0]
	assert.Equal(t, packet.Header2, relayed.HeaderType)
	assert.Equal(t, tr.ID(), relayed.TransportID)
	assert.Equal(t, byte(1), relayed.Hops)

	require.NoError(t, tr.IngestInbound(raw, "in"))
	require.NoError(t, tr.IngestInbound(raw, "out"))
	assert.Equal(t, 1, out.count())
	assert.Equal(t, 0, in.count())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.DropDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnnouncesAccepted))

	path, _ := tr.LookupPath(d.Hash())
	assert.Equal(t, "in", path.Interface)
}

func TestOwnAnnounceEchoIgnored(t *testing.T) {
	tr := newTestTransport(t, relayConfig())
	rec := newRecorder("r0")
	require.NoError(t, tr.AddInterface(rec))
	d := newChatDestination(t)
	require.NoError(t, tr.RegisterDestination(d))

	require.NoError(t, tr.AnnounceNow(d))
	sent := rec.packets(t)
	require.Len(t, sent, 1)
	raw, err := sent[0].Encode()
	require.NoError(t, err)

	require.NoError(t, tr.IngestInbound(raw, "r0"))
	assert.False(t, tr.HasPath(d.Hash()))
	assert.Equal(t, 1, rec.count())
}

func TestNonTransportDoesNotPropagate(t *testing.T) {
	tr := newTestTransport(t, nil)
	in, out := newRecorder("in"), newRecorder("out")
	require.NoError(t, tr.AddInterface(in))
	require.NoError(t, tr.AddInterface(out))

	d := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 0), "in"))
	assert.True(t, tr.HasPath(d.Hash()))
	assert.Equal(t, 0, out.count())
}

func TestSharedInterfaceReceivesRelay(t *testing.T) {
	cfg := relayConfig()
	cfg.Interfaces = []config.InterfaceConfig{{Name: "shared", Shared: true}}
	tr := newTestTransport(t, cfg)
	rec := newRecorder("shared")
	require.NoError(t, tr.AddInterface(rec))

	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, newChatDestination(t), 0), "shared"))
	assert.Equal(t, 1, rec.count())
}

func TestPathKeepsLowestHops(t *testing.T) {
	tr := newTestTransport(t, nil)
	require.NoError(t, tr.AddInterface(newRecorder("r0")))
	d := newChatDestination(t)

	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 2), "r0"))
	assert.Equal(t, 2, tr.HopsTo(d.Hash()))

	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 4), "r0"))
	assert.Equal(t, 2, tr.HopsTo(d.Hash()), "more hops replaced a fresh path")

	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 1), "r0"))
	assert.Equal(t, 1, tr.HopsTo(d.Hash()))

	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 1), "r0"))
	assert.Equal(t, 1, tr.HopsTo(d.Hash()), "a newer announce at the same distance refreshes")
	assert.Equal(t, -1, tr.HopsTo(newChatDestination(t).Hash()))
}

func TestShouldReplace(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	blob := func(b byte) []byte {
		out := make([]byte, 10)
		out[0] = b
		return out
	}
	current := &PathEntry{
		Hops:        3,
		Emitted:     now.Add(-time.Minute),
		Expires:     now.Add(time.Hour),
		randomBlobs: [][]byte{blob(1)},
	}
	expired := *current
	expired.Expires = now.Add(-time.Second)

	tests := []struct {
		name    string
		old     *PathEntry
		hops    int
		emitted time.Time
		blob    []byte
		want    bool
	}{
		{"no entry", nil, 9, now, blob(2), true},
		{"replayed blob", current, 0, now, blob(1), false},
		{"fewer hops", current, 2, now.Add(-time.Hour), blob(2), true},
		{"same hops newer", current, 3, now, blob(2), true},
		{"same hops older", current, 3, now.Add(-time.Hour), blob(2), false},
		{"same hops older expired", &expired, 3, now.Add(-time.Hour), blob(2), true},
		{"more hops", current, 4, now, blob(2), false},
		{"more hops expired", &expired, 4, now, blob(2), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shouldReplace(tc.old, tc.hops, tc.emitted, tc.blob, now))
		})
	}
}

func TestMaxHops(t *testing.T) {
	cfg := relayConfig()
	cfg.Transport.MaxHops = 2
	m := metrics.New()
	tr := newTestTransport(t, cfg, WithMetrics(m))
	in, out := newRecorder("in"), newRecorder("out")
	require.NoError(t, tr.AddInterface(in))
	require.NoError(t, tr.AddInterface(out))

	far := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, far, 3), "in"))
	assert.False(t, tr.HasPath(far.Hash()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.DropMaxHops)))

	edge := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, edge, 2), "in"))
	assert.True(t, tr.HasPath(edge.Hash()))
	assert.Equal(t, 0, out.count(), "announce at the hop limit was propagated")

	near := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, near, 1), "in"))
	require.Equal(t, 1, out.count())
	assert.Equal(t, byte(2), out.packets(t)[0].Hops)
}

func TestInvalidAnnounceDropped(t *testing.T) {
	m := metrics.New()
	tr := newTestTransport(t, relayConfig(), WithMetrics(m))
	in, out := newRecorder("in"), newRecorder("out")
	require.NoError(t, tr.AddInterface(in))
	require.NoError(t, tr.AddInterface(out))

	d := newChatDestination(t)
	p, err := d.Announce(nil)
	require.NoError(t, err)
	p.Data[identity.PublicKeySize+crypto.NameHashLength+destination.RandomHashLength] ^= 0x01
	raw, err := p.Encode()
	require.NoError(t, err)

	require.NoError(t, tr.IngestInbound(raw, "in"))
	assert.False(t, tr.HasPath(d.Hash()))
	assert.Equal(t, 0, out.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.DropVerification)))
}

func TestAnnounceRateLimit(t *testing.T) {
	cfg := config.DefaultNodeConfig()
	cfg.Transport.AnnounceRate = 0.001
	cfg.Transport.AnnounceBurst = 1
	m := metrics.New()
	tr := newTestTransport(t, cfg, WithMetrics(m))
	require.NoError(t, tr.AddInterface(newRecorder("r0")))

	first, second := newChatDestination(t), newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, first, 0), "r0"))
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, second, 0), "r0"))
	assert.True(t, tr.HasPath(first.Hash()))
	assert.False(t, tr.HasPath(second.Hash()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsDropped.WithLabelValues(metrics.DropRateLimited)))
}

func TestPathExpiry(t *testing.T) {
	tr := newTestTransport(t, nil)
	require.NoError(t, tr.AddInterface(newRecorder("r0")))
	d := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 0), "r0"))
	require.True(t, tr.HasPath(d.Hash()))

	tr.maintain(time.Now().Add(tr.Config().Transport.PathExpiry + time.Minute))
	assert.False(t, tr.HasPath(d.Hash()))
	assert.Empty(t, tr.Paths())
}

func TestExpirePath(t *testing.T) {
	tr := newTestTransport(t, nil)
	require.NoError(t, tr.AddInterface(newRecorder("r0")))
	d := newChatDestination(t)
	require.NoError(t, tr.IngestInbound(encodeAnnounce(t, d, 0), "r0"))

	assert.True(t, tr.ExpirePath(d.Hash()))
	assert.False(t, tr.ExpirePath(d.Hash()))
	assert.False(t, tr.HasPath(d.Hash()))
}

func TestAnnounceStampedWithTransportClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	tr := newTestTransport(t, nil, WithClock(mock))
	rec := newRecorder("r0")
	require.NoError(t, tr.AddInterface(rec))
	d := newChatDestination(t)
	require.NoError(t, tr.RegisterDestination(d))
	assert.ElementsMatch(t, []*destination.Destination{d}, tr.LocalDestinations())

	require.NoError(t, tr.AnnounceNow(d))
	sent := rec.packets(t)
	require.Len(t, sent, 1)
	info, err := destination.ValidateAnnounce(sent[0])
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0), info.Emitted())
}
