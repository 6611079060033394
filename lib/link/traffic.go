package link

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	keepaliveRequest byte = 0xFF
	keepaliveReply   byte = 0xFE

	// DataMessageType tags Send payloads inside the channel envelope.
	DataMessageType uint16 = 0x0001

	msgpackFloat64 byte = 0xcb
	msgpackFloat32 byte = 0xca

	// sequences ahead of the expected one by less than half the space are new
	sequenceWindow = 0x8000
)

// maxPayloadLocked is the Send limit for the negotiated MTU. Packets never
// exceed packet.MTU regardless of what was signalled.
func (l *Link) maxPayloadLocked() int {
	mtu := l.mtu
	if mtu <= 0 || mtu > packet.MTU {
		mtu = packet.MTU
	}
	return MDU(mtu) - envelopeHeaderSize
}

// Send encrypts data into a sequenced channel packet.
func (l *Link) Send(data []byte) (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, ErrLinkClosed
	}
	if l.state != StateActive {
		return nil, oops.Wrapf(ErrNotActive, "send in state %s", l.state)
	}
	if limit := l.maxPayloadLocked(); len(data) > limit {
		return nil, oops.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d", len(data), limit)
	}
	env := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(data))
	binary.BigEndian.PutUint16(env[0:2], DataMessageType)
	binary.BigEndian.PutUint16(env[2:4], l.txSeq)
	binary.BigEndian.PutUint16(env[4:6], uint16(len(data)))
	env = append(env, data...)

	p, err := l.encryptedLocked(packet.ContextChannel, env)
	if err != nil {
		return nil, err
	}
	l.txSeq++
	return p, nil
}

// SendRaw encrypts data into an unsequenced packet. The peer delivers each
// distinct packet once.
func (l *Link) SendRaw(data []byte) (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, ErrLinkClosed
	}
	if l.state != StateActive {
		return nil, oops.Wrapf(ErrNotActive, "send in state %s", l.state)
	}
	if limit := l.maxPayloadLocked() + envelopeHeaderSize; len(data) > limit {
		return nil, oops.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d", len(data), limit)
	}
	return l.encryptedLocked(packet.ContextNone, data)
}

// Teardown closes the link locally and returns the LINKCLOSE packet for the
// peer, or nil when no session key was established yet.
func (l *Link) Teardown() (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, ErrLinkClosed
	}
	var p *packet.Packet
	if l.state == StateActive {
		var err error
		if p, err = l.encryptedLocked(packet.ContextLinkClose, l.id[:]); err != nil {
			return nil, err
		}
	}
	reason := ReasonDestinationClosed
	if l.initiator {
		reason = ReasonInitiatorClosed
	}
	l.closeLocked(reason)
	return p, nil
}

// Receive processes an inbound DATA packet addressed to the link. The
// returned packet, when non-nil, must be sent back to the peer.
func (l *Link) Receive(p *packet.Packet) (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, ErrLinkClosed
	}
	if l.state != StateActive {
		return nil, oops.Wrapf(ErrNotActive, "receive in state %s", l.state)
	}
	if p.Destination != l.id {
		return nil, oops.Wrapf(ErrMalformedPayload, "packet for %s on link %s", p.Destination.Short(), l.id.Short())
	}

	switch p.Context {
	case packet.ContextKeepalive:
		return l.receiveKeepaliveLocked(p)
	case packet.ContextLinkClose:
		return nil, l.receiveTeardownLocked(p)
	case packet.ContextLRRTT:
		return nil, l.receiveRTTLocked(p)
	case packet.ContextChannel:
		return nil, l.receiveChannelLocked(p)
	case packet.ContextNone:
		return nil, l.receiveRawLocked(p)
	}
	return nil, oops.Wrapf(ErrMalformedPayload, "unsupported context %#x", byte(p.Context))
}

// receiveRawLocked delivers unsequenced data. Every token carries a fresh
// IV, so a ciphertext seen before on this link is a replay.
func (l *Link) receiveRawLocked(p *packet.Packet) error {
	var digest [crypto.HashLength]byte
	copy(digest[:], crypto.FullHash(p.Data))
	if _, dup := l.seenRaw[digest]; dup {
		log.WithFields(logger.Fields{
			"at":     "(Link) Receive",
			"link":   l.id.Short(),
			"reason": "replay",
		}).Debug("dropping replayed data")
		return oops.Wrapf(ErrReplayedData, "link %s", l.id.Short())
	}
	plain, err := l.token.Decrypt(p.Data)
	if err != nil {
		return err
	}
	if l.seenRaw == nil {
		l.seenRaw = make(map[[crypto.HashLength]byte]struct{})
	}
	l.seenRaw[digest] = struct{}{}
	l.touchLocked()
	l.events.emit(Event{LinkID: l.id, Type: EventData, Data: plain})
	return nil
}

func (l *Link) touchLocked() {
	l.lastInbound = l.clock.Now()
}

func (l *Link) receiveKeepaliveLocked(p *packet.Packet) (*packet.Packet, error) {
	if len(p.Data) != 1 {
		return nil, oops.Wrapf(ErrMalformedPayload, "keepalive of %d bytes", len(p.Data))
	}
	l.touchLocked()
	if p.Data[0] == keepaliveRequest && !l.initiator {
		l.lastOutbound = l.clock.Now()
		return l.keepaliveLocked(keepaliveReply), nil
	}
	return nil, nil
}

func (l *Link) receiveTeardownLocked(p *packet.Packet) error {
	plain, err := l.token.Decrypt(p.Data)
	if err != nil {
		return err
	}
	if !bytes.Equal(plain, l.id[:]) {
		return oops.Wrapf(ErrMalformedPayload, "teardown does not carry the link id")
	}
	reason := ReasonInitiatorClosed
	if l.initiator {
		reason = ReasonDestinationClosed
	}
	l.closeLocked(reason)
	return nil
}

func (l *Link) receiveRTTLocked(p *packet.Packet) error {
	if l.initiator {
		return oops.Wrapf(ErrMalformedPayload, "rtt packet sent to initiator")
	}
	plain, err := l.token.Decrypt(p.Data)
	if err != nil {
		return err
	}
	rtt, err := unpackRTT(plain)
	if err != nil {
		return err
	}
	l.touchLocked()
	if rtt > l.rtt {
		l.rtt = rtt
	}
	return nil
}

func (l *Link) receiveChannelLocked(p *packet.Packet) error {
	plain, err := l.token.Decrypt(p.Data)
	if err != nil {
		return err
	}
	if len(plain) < envelopeHeaderSize {
		return oops.Wrapf(ErrMalformedPayload, "envelope of %d bytes", len(plain))
	}
	seq := binary.BigEndian.Uint16(plain[2:4])
	length := int(binary.BigEndian.Uint16(plain[4:6]))
	body := plain[envelopeHeaderSize:]
	if length != len(body) {
		return oops.Wrapf(ErrMalformedPayload, "envelope declares %d bytes, carries %d", length, len(body))
	}
	if seq-l.rxNext >= sequenceWindow {
		log.WithFields(logger.Fields{
			"at":       "(Link) Receive",
			"link":     l.id.Short(),
			"sequence": seq,
			"expected": l.rxNext,
		}).Debug("dropping stale sequence")
		return oops.Wrapf(ErrStaleSequence, "sequence %d, expected at least %d", seq, l.rxNext)
	}
	l.rxNext = seq + 1
	l.touchLocked()
	l.events.emit(Event{LinkID: l.id, Type: EventData, Data: body})
	return nil
}

func (l *Link) keepaliveLocked(b byte) *packet.Packet {
	return &packet.Packet{
		DestinationType: packet.Link,
		Type:            packet.Data,
		Destination:     l.id,
		Context:         packet.ContextKeepalive,
		Data:            []byte{b},
	}
}

func (l *Link) encryptedLocked(ctx packet.Context, plain []byte) (*packet.Packet, error) {
	if l.token == nil {
		return nil, oops.Wrapf(ErrNotActive, "no session key")
	}
	ct, err := l.token.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	l.lastOutbound = l.clock.Now()
	return &packet.Packet{
		DestinationType: packet.Link,
		Type:            packet.Data,
		Destination:     l.id,
		Context:         ctx,
		Data:            ct,
	}, nil
}

// packRTT encodes seconds as a msgpack float 64.
func packRTT(rtt time.Duration) []byte {
	out := make([]byte, 9)
	out[0] = msgpackFloat64
	binary.BigEndian.PutUint64(out[1:], math.Float64bits(rtt.Seconds()))
	return out
}

func unpackRTT(b []byte) (time.Duration, error) {
	var secs float64
	switch {
	case len(b) == 9 && b[0] == msgpackFloat64:
		secs = math.Float64frombits(binary.BigEndian.Uint64(b[1:]))
	case len(b) == 5 && b[0] == msgpackFloat32:
		secs = float64(math.Float32frombits(binary.BigEndian.Uint32(b[1:])))
	default:
		return 0, oops.Wrapf(ErrMalformedPayload, "rtt is not a msgpack float")
	}
	if math.IsNaN(secs) || secs < 0 || secs > 3600 {
		return 0, oops.Wrapf(ErrMalformedPayload, "rtt %v out of range", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
