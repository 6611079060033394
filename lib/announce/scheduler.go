package announce

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Announcer emits one announce for a destination. *transport.Transport
// satisfies it.
type Announcer interface {
	AnnounceNow(d *destination.Destination) error
}

// Registry lists the destinations a node owns. *transport.Transport
// satisfies it.
type Registry interface {
	LocalDestinations() []*destination.Destination
}

// Scheduler periodically announces a set of local destinations so that the
// paths other nodes hold to them stay fresh.
type Scheduler struct {
	announcer Announcer
	interval  time.Duration
	onStart   bool
	clock     clock.Clock
	metrics   *metrics.Metrics
	registry  Registry

	mu           sync.Mutex
	destinations map[common.AddressHash]*destination.Destination
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lastRound    time.Time

	emitted atomic.Uint64
	failed  atomic.Uint64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics counts emitted announces on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRegistry also announces every Single inbound destination r lists at
// the time of each round, without an explicit Add.
func WithRegistry(r Registry) Option {
	return func(s *Scheduler) { s.registry = r }
}

// NewScheduler creates a stopped scheduler that announces through a.
func NewScheduler(a Announcer, cfg config.AnnounceConfig, opts ...Option) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, oops.Wrapf(ErrInvalidInterval, "got %s", cfg.Interval)
	}
	s := &Scheduler{
		announcer:    a,
		interval:     cfg.Interval,
		onStart:      cfg.OnStart,
		clock:        clock.New(),
		destinations: make(map[common.AddressHash]*destination.Destination),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add schedules d. Adding a destination twice keeps one entry.
func (s *Scheduler) Add(d *destination.Destination) error {
	if !announceable(d) {
		return oops.Wrapf(ErrNotAnnounceable, "%s", d)
	}
	s.mu.Lock()
	s.destinations[d.Hash()] = d
	n := len(s.destinations)
	s.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":          "(Scheduler) Add",
		"destination": d.Hash().Short(),
		"scheduled":   n,
	}).Debug("scheduled destination")
	return nil
}

// Remove stops announcing the destination with hash h.
func (s *Scheduler) Remove(h common.AddressHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.destinations[h]
	delete(s.destinations, h)
	return ok
}

// AnnounceNow announces one scheduled destination outside the periodic
// rounds.
func (s *Scheduler) AnnounceNow(h common.AddressHash) error {
	s.mu.Lock()
	d, ok := s.destinations[h]
	s.mu.Unlock()
	if !ok {
		return oops.Wrapf(ErrUnknown, "%s", h.Short())
	}
	return s.emit(d)
}

// Start begins periodic announcing in the background until Stop is called.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.Ticker(s.interval)

	log.WithFields(logger.Fields{
		"at":       "(Scheduler) Start",
		"interval": s.interval,
		"on_start": s.onStart,
	}).Info("starting announce scheduler")

	s.wg.Add(1)
	go s.loop(ctx, ticker)
	return nil
}

// Stop halts the scheduler and waits for an in-flight round to finish.
// A stopped scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Info("announce scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	if s.onStart {
		s.round(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

// round announces every scheduled destination in hash order.
func (s *Scheduler) round(ctx context.Context) {
	s.mu.Lock()
	set := make(map[common.AddressHash]*destination.Destination, len(s.destinations))
	for h, d := range s.destinations {
		set[h] = d
	}
	s.lastRound = s.clock.Now()
	s.mu.Unlock()
	if s.registry != nil {
		for _, d := range s.registry.LocalDestinations() {
			if announceable(d) {
				set[d.Hash()] = d
			}
		}
	}
	ds := make([]*destination.Destination, 0, len(set))
	for _, d := range set {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool {
		hi, hj := ds[i].Hash(), ds[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	failed := 0
	for _, d := range ds {
		if ctx.Err() != nil {
			return
		}
		if err := s.emit(d); err != nil {
			failed++
		}
	}
	log.WithFields(logger.Fields{
		"at":           "(Scheduler) round",
		"destinations": len(ds),
		"failed":       failed,
	}).Debug("announce round complete")
}

func announceable(d *destination.Destination) bool {
	return d.Type == packet.Single && d.Direction == destination.In
}

func (s *Scheduler) emit(d *destination.Destination) error {
	if err := s.announcer.AnnounceNow(d); err != nil {
		s.failed.Add(1)
		s.metrics.AnnounceEmitted("error")
		log.WithFields(logger.Fields{
			"at":          "(Scheduler) emit",
			"reason":      "announce_failed",
			"destination": d.Hash().Short(),
		}).WithError(err).Warn("could not announce destination")
		return err
	}
	s.emitted.Add(1)
	s.metrics.AnnounceEmitted("ok")
	return nil
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Destinations int
	Emitted      uint64
	Failed       uint64
	Interval     time.Duration
	LastRound    time.Time
	IsRunning    bool
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Destinations: len(s.destinations),
		Emitted:      s.emitted.Load(),
		Failed:       s.failed.Load(),
		Interval:     s.interval,
		LastRound:    s.lastRound,
		IsRunning:    s.cancel != nil,
	}
}
