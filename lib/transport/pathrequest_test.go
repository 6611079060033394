package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathRequest(t *testing.T) {
	dest := common.AddressHash{1, 2, 3}
	transportID := common.AddressHash{9, 9}
	tag := make([]byte, PathRequestTagLength)
	tag[0] = 7

	t.Run("plain", func(t *testing.T) {
		got, gotTag, ok := parsePathRequest(append(dest.Bytes(), tag...))
		require.True(t, ok)
		assert.Equal(t, dest, got)
		assert.Equal(t, tag, gotTag)
	})
	t.Run("with transport id", func(t *testing.T) {
		data := append(append(dest.Bytes(), transportID.Bytes()...), tag...)
		got, gotTag, ok := parsePathRequest(data)
		require.True(t, ok)
		assert.Equal(t, dest, got)
		assert.Equal(t, tag, gotTag)
	})
	t.Run("short tag", func(t *testing.T) {
		_, gotTag, ok := parsePathRequest(append(dest.Bytes(), 1, 2))
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2}, gotTag)
	})
	t.Run("no tag", func(t *testing.T) {
		_, _, ok := parsePathRequest(dest.Bytes())
		assert.False(t, ok)
	})
}

func TestRequestPathTimeout(t *testing.T) {
	cfg := relayConfig()
	cfg.Transport.PathRequestTimeout = 100 * time.Millisecond
	tr := newTestTransport(t, cfg)
	rec := newRecorder("r0")
	require.NoError(t, tr.AddInterface(rec))

	dest := newChatDestination(t).Hash()
	err := tr.RequestPath(context.Background(), dest)
	assert.ErrorIs(t, err, ErrDestinationUnreachable)

	sent := rec.packets(t)
	require.Len(t, sent, 1)
	req := sent[0]
	assert.Equal(t, packet.PathRequestHash, req.Destination)
	assert.Equal(t, packet.Plain, req.DestinationType)
	assert.Equal(t, dest.Bytes(), req.Data[:common.AddressHashLength])
	assert.Equal(t, tr.ID().Bytes(), req.Data[common.AddressHashLength:2*common.AddressHashLength])
	assert.Len(t, req.Data, 2*common.AddressHashLength+PathRequestTagLength)

	// the request interval throttles a second attempt
	assert.ErrorIs(t, tr.RequestPath(context.Background(), dest), ErrDestinationUnreachable)
	assert.Equal(t, 1, rec.count())
}

func TestRequestPathContextCancelled(t *testing.T) {
	tr := newTestTransport(t, nil)
	require.NoError(t, tr.AddInterface(newRecorder("r0")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tr.RequestPath(ctx, newChatDestination(t).Hash())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestPathAnsweredByDestination(t *testing.T) {
	a := newTestTransport(t, nil)
	b := newTestTransport(t, nil)
	connect(t, a, b, "a0", "b0")
	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))

	require.NoError(t, a.RequestPath(testContext(t), local.Hash()))
	path, ok := a.LookupPath(local.Hash())
	require.True(t, ok)
	assert.Equal(t, 0, path.Hops)
	assert.Equal(t, local.Identity().Hash(), path.Identity.Hash())
}

func TestRequestPathAnsweredFromCache(t *testing.T) {
	r := newTestTransport(t, relayConfig())
	b := newTestTransport(t, nil)
	connect(t, r, b, "r-b", "b0")
	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))
	require.NoError(t, b.AnnounceNow(local))
	require.Eventually(t, func() bool { return r.HasPath(local.Hash()) }, eventually, 5*time.Millisecond)

	// b goes quiet so only r can answer
	require.True(t, b.UnregisterDestination(local.Hash()))

	a := newTestTransport(t, nil)
	connect(t, a, r, "a0", "r-a")
	require.NoError(t, a.RequestPath(testContext(t), local.Hash()))
	path, _ := a.LookupPath(local.Hash())
	assert.Equal(t, 1, path.Hops)
	assert.Equal(t, r.ID(), path.NextHop)
}

func TestRequestPathForwardedByTransport(t *testing.T) {
	a := newTestTransport(t, nil)
	r := newTestTransport(t, relayConfig())
	b := newTestTransport(t, nil)
	connect(t, a, r, "a0", "r-a")
	connect(t, r, b, "r-b", "b0")
	local := newChatDestination(t)
	require.NoError(t, b.RegisterDestination(local))

	require.NoError(t, a.RequestPath(testContext(t), local.Hash()))
	path, _ := a.LookupPath(local.Hash())
	assert.Equal(t, 1, path.Hops)
	assert.Equal(t, r.ID(), path.NextHop)
	assert.Equal(t, 0, r.HopsTo(local.Hash()))
}

func TestConcurrentRequestsShareOnePacket(t *testing.T) {
	cfg := relayConfig()
	cfg.Transport.PathRequestTimeout = 100 * time.Millisecond
	tr := newTestTransport(t, cfg)
	rec := newRecorder("r0")
	require.NoError(t, tr.AddInterface(rec))
	dest := newChatDestination(t).Hash()

	errs := make(chan error, 4)
	for i := 0; i < cap(errs); i++ {
		go func() { errs <- tr.RequestPath(context.Background(), dest) }()
	}
	for i := 0; i < cap(errs); i++ {
		assert.ErrorIs(t, <-errs, ErrDestinationUnreachable)
	}
	assert.Equal(t, 1, rec.count())
}
