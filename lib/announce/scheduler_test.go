package announce

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/go-rns/lib/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnnouncer struct {
	calls chan common.AddressHash
	mu    sync.Mutex
	err   error
}

func newFakeAnnouncer() *fakeAnnouncer {
	return &fakeAnnouncer{calls: make(chan common.AddressHash, 64)}
}

func (f *fakeAnnouncer) AnnounceNow(d *destination.Destination) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	f.calls <- d.Hash()
	return err
}

func (f *fakeAnnouncer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAnnouncer) next(t *testing.T) common.AddressHash {
	t.Helper()
	select {
	case h := <-f.calls:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("no announce")
		return common.AddressHash{}
	}
}

func (f *fakeAnnouncer) quiet(t *testing.T) {
	t.Helper()
	select {
	case h := <-f.calls:
		t.Fatalf("unexpected announce of %s", h.Short())
	case <-time.After(50 * time.Millisecond):
	}
}

func newDestination(t *testing.T) *destination.Destination {
	t.Helper()
	id, err := identity.New()
	require.NoError(t, err)
	d, err := destination.New(id, destination.In, packet.Single, "app", "chat")
	require.NoError(t, err)
	return d
}

func TestNewSchedulerRejectsInterval(t *testing.T) {
	_, err := NewScheduler(newFakeAnnouncer(), config.AnnounceConfig{})
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestAddValidatesDestination(t *testing.T) {
	s, err := NewScheduler(newFakeAnnouncer(), config.AnnounceConfig{Interval: time.Minute})
	require.NoError(t, err)

	d := newDestination(t)
	require.NoError(t, s.Add(d))
	require.NoError(t, s.Add(d))
	assert.Equal(t, 1, s.Stats().Destinations)

	out, err := destination.New(d.Identity(), destination.Out, packet.Single, "app", "chat")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Add(out), ErrNotAnnounceable)

	plain, err := destination.New(nil, destination.In, packet.Plain, "app", "beacon")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Add(plain), ErrNotAnnounceable)

	assert.True(t, s.Remove(d.Hash()))
	assert.False(t, s.Remove(d.Hash()))
	assert.ErrorIs(t, s.AnnounceNow(d.Hash()), ErrUnknown)
}

func TestSchedulerRounds(t *testing.T) {
	mock := clock.NewMock()
	fa := newFakeAnnouncer()
	s, err := NewScheduler(fa, config.AnnounceConfig{Interval: time.Minute, OnStart: true}, WithClock(mock))
	require.NoError(t, err)
	a, b := newDestination(t), newDestination(t)
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.ErrorIs(t, s.Start(), ErrRunning)

	got := map[common.AddressHash]bool{fa.next(t): true, fa.next(t): true}
	assert.True(t, got[a.Hash()])
	assert.True(t, got[b.Hash()])
	fa.quiet(t)

	mock.Add(time.Minute)
	fa.next(t)
	fa.next(t)
	fa.quiet(t)

	require.Eventually(t, func() bool { return s.Stats().Emitted == 4 }, 2*time.Second, 5*time.Millisecond)
	st := s.Stats()
	assert.True(t, st.IsRunning)
	assert.Equal(t, uint64(0), st.Failed)
	assert.Equal(t, mock.Now(), st.LastRound)
}

func TestSchedulerWithoutOnStart(t *testing.T) {
	mock := clock.NewMock()
	fa := newFakeAnnouncer()
	s, err := NewScheduler(fa, config.AnnounceConfig{Interval: time.Minute}, WithClock(mock))
	require.NoError(t, err)
	d := newDestination(t)
	require.NoError(t, s.Add(d))

	require.NoError(t, s.Start())
	fa.quiet(t)
	mock.Add(time.Minute)
	assert.Equal(t, d.Hash(), fa.next(t))

	s.Stop()
	s.Stop()
	assert.False(t, s.Stats().IsRunning)
	mock.Add(time.Minute)
	fa.quiet(t)

	require.NoError(t, s.Start(), "stopped scheduler restarts")
	s.Stop()
}

func TestAnnounceFailuresCounted(t *testing.T) {
	m := metrics.New()
	fa := newFakeAnnouncer()
	fa.fail(errors.New("interface down"))
	s, err := NewScheduler(fa, config.AnnounceConfig{Interval: time.Minute}, WithMetrics(m))
	require.NoError(t, err)
	d := newDestination(t)
	require.NoError(t, s.Add(d))

	assert.Error(t, s.AnnounceNow(d.Hash()))
	fa.fail(nil)
	assert.NoError(t, s.AnnounceNow(d.Hash()))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(1), st.Emitted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnnouncesEmitted.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnnouncesEmitted.WithLabelValues("ok")))
}

type recorder struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recorder) ID() string { return "r0" }

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

func TestSchedulerDrivesTransport(t *testing.T) {
	tr, err := transport.New(nil, nil)
	require.NoError(t, err)
	defer tr.Close()
	rec := &recorder{}
	require.NoError(t, tr.AddInterface(rec))

	d := newDestination(t)
	require.NoError(t, tr.RegisterDestination(d))
	s, err := NewScheduler(tr, tr.Config().Announce)
	require.NoError(t, err)
	require.NoError(t, s.Add(d))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	p, err := packet.Decode(rec.sent[0])
	require.NoError(t, err)
	assert.Equal(t, packet.Announce, p.Type)
	assert.Equal(t, d.Hash(), p.Destination)
}

func TestSchedulerFollowsRegistry(t *testing.T) {
	tr, err := transport.New(nil, nil)
	require.NoError(t, err)
	defer tr.Close()
	rec := &recorder{}
	require.NoError(t, tr.AddInterface(rec))

	d := newDestination(t)
	require.NoError(t, tr.RegisterDestination(d))
	plain, err := destination.New(nil, destination.In, packet.Plain, "app", "beacon")
	require.NoError(t, err)
	require.NoError(t, tr.RegisterDestination(plain))

	s, err := NewScheduler(tr, config.AnnounceConfig{Interval: time.Hour, OnStart: true}, WithRegistry(tr))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Stats().Emitted == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Stats().Destinations, "registered destinations are not added")
	assert.Equal(t, uint64(0), s.Stats().Failed)
	require.Equal(t, 1, rec.count())
	p, err := packet.Decode(rec.sent[0])
	require.NoError(t, err)
	assert.Equal(t, d.Hash(), p.Destination)
}
