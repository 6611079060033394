package iface

import (
	"sync"

	"github.com/go-i2p/logger"
)

// DefaultPipeQueue is the number of packets a pipe buffers per direction.
const DefaultPipeQueue = 256

/*
[Pipe]

Description
One end of an in-memory point to point interface. Sends are asynchronous:
a packet is queued for the other end and delivered to its Ingester from the
other end's delivery goroutine. A full queue drops the packet, like a
congested link would.
*/
type Pipe struct {
	id   string
	peer *Pipe

	inbox chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.RWMutex
	ingester Ingester
	tamper   func([]byte) []byte
	started  bool

	closeOnce sync.Once
}

var (
	_ Interface = (*Pipe)(nil)
	_ Attacher  = (*Pipe)(nil)
)

// NewPipe returns two connected ends with the given interface ids.
func NewPipe(aID, bID string) (*Pipe, *Pipe) {
	a := newPipeEnd(aID)
	b := newPipeEnd(bID)
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEnd(id string) *Pipe {
	return &Pipe{
		id:    id,
		inbox: make(chan []byte, DefaultPipeQueue),
		done:  make(chan struct{}),
	}
}

func (p *Pipe) ID() string {
	return p.id
}

// Attach starts delivering inbound packets to ing.
func (p *Pipe) Attach(ing Ingester) {
	p.mu.Lock()
	p.ingester = ing
	start := !p.started
	p.started = true
	p.mu.Unlock()
	if start {
		p.wg.Add(1)
		go p.deliver()
	}
}

// SetTamper installs a hook applied to every packet this end sends. The
// hook may return nil to drop the packet.
func (p *Pipe) SetTamper(fn func([]byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tamper = fn
}

// Send queues raw for the other end.
func (p *Pipe) Send(raw []byte) error {
	select {
	case <-p.done:
		return ErrInterfaceClosed
	default:
	}
	buf := append([]byte(nil), raw...)
	p.mu.RLock()
	tamper := p.tamper
	p.mu.RUnlock()
	if tamper != nil {
		if buf = tamper(buf); buf == nil {
			return nil
		}
	}
	select {
	case <-p.peer.done:
		return nil
	case p.peer.inbox <- buf:
	default:
		log.WithFields(logger.Fields{
			"at":        "(Pipe) Send",
			"reason":    "queue_full",
			"interface": p.id,
		}).Warn("dropping packet")
	}
	return nil
}

func (p *Pipe) deliver() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case raw := <-p.inbox:
			p.mu.RLock()
			ing := p.ingester
			p.mu.RUnlock()
			if err := ing.IngestInbound(raw, p.id); err != nil {
				log.WithFields(logger.Fields{
					"at":        "(Pipe) deliver",
					"reason":    "ingest_failed",
					"interface": p.id,
				}).WithError(err).Debug("inbound packet rejected")
			}
		}
	}
}

// Close stops delivery on this end. The other end keeps running but its
// sends are discarded.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}
