package link

import (
	"crypto/ed25519"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	// ModeAES256CBC is the only link encryption mode implemented.
	ModeAES256CBC byte = 0x01

	mtuMask  = 0x1FFFFF
	modeMask = 0xE0
)

// Signalling encodes the MTU and mode trailer carried by requests and proofs.
func Signalling(mtu int, mode byte) []byte {
	v := uint32(mtu)&mtuMask | (uint32(mode<<5)&modeMask)<<16
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// ParseSignalling decodes a 3 byte trailer into MTU and mode.
func ParseSignalling(b []byte) (mtu int, mode byte) {
	if len(b) < SignallingSize {
		return 0, 0
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return int(v & mtuMask), (b[0] & modeMask) >> 5
}

// IDFromRequest derives the link id from a link request: the truncated hash
// of its hashable part with any signalling bytes beyond the two ephemeral
// keys removed.
func IDFromRequest(p *packet.Packet) common.AddressHash {
	hashable := p.HashablePart()
	if extra := len(p.Data) - EphemeralKeySize; extra > 0 {
		hashable = hashable[:len(hashable)-extra]
	}
	return crypto.TruncatedHash(hashable)
}

// Request builds the link request packet and moves the link to
// AwaitingProof.
func (l *Link) Request() (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePending || !l.initiator {
		return nil, oops.Wrapf(ErrInvalidState, "request in state %s", l.state)
	}
	data := make([]byte, 0, EphemeralKeySize+SignallingSize)
	data = append(data, l.pub...)
	data = append(data, l.sigPriv.Public().(ed25519.PublicKey)...)
	if l.cfg.SignalMTU {
		data = append(data, Signalling(l.cfg.MTU, ModeAES256CBC)...)
	}
	p := &packet.Packet{
		DestinationType: packet.Single,
		Type:            packet.LinkRequest,
		Destination:     l.destination.Hash(),
		Context:         packet.ContextNone,
		Data:            data,
	}
	l.id = IDFromRequest(p)
	l.state = StateAwaitingProof
	now := l.clock.Now()
	l.requestedAt = now
	l.lastOutbound = now
	log.WithFields(logger.Fields{
		"at":          "(Link) Request",
		"link":        l.id.Short(),
		"destination": l.destination.Hash().Short(),
	}).Debug("built link request")
	return p, nil
}

// Accept answers a link request addressed to the local destination local.
// It returns the responder link, already Active, and the proof to send. The
// activated event waits for Activate.
func Accept(local *destination.Destination, req *packet.Packet, opts ...Option) (*Link, *packet.Packet, error) {
	if req.Type != packet.LinkRequest {
		return nil, nil, oops.Wrapf(ErrInvalidRequest, "packet type %s", req.Type)
	}
	if len(req.Data) != EphemeralKeySize && len(req.Data) != EphemeralKeySize+SignallingSize {
		return nil, nil, oops.Wrapf(ErrInvalidRequest, "request of %d bytes", len(req.Data))
	}
	owner := local.Identity()
	if owner == nil || !owner.HasPrivateKey() {
		return nil, nil, oops.Wrapf(ErrInvalidRequest, "destination %s cannot sign proofs", local.Hash().Short())
	}

	l := newLink(local, false, opts)
	l.id = IDFromRequest(req)
	l.peerPub = append([]byte(nil), req.Data[:crypto.X25519KeySize]...)
	l.peerSigPub = append([]byte(nil), req.Data[crypto.X25519KeySize:EphemeralKeySize]...)

	var signalling []byte
	if len(req.Data) > EphemeralKeySize {
		mtu, mode := ParseSignalling(req.Data[EphemeralKeySize:])
		if mode != ModeAES256CBC {
			return nil, nil, oops.Wrapf(ErrUnsupportedMode, "mode %#x", mode)
		}
		if mtu > l.cfg.MTU {
			mtu = l.cfg.MTU
		}
		l.mtu = mtu
		signalling = Signalling(mtu, ModeAES256CBC)
	}

	var err error
	if l.prv, l.pub, err = crypto.GenerateX25519(); err != nil {
		return nil, nil, err
	}
	if err := l.deriveKey(); err != nil {
		return nil, nil, err
	}

	ownerSigPub := owner.SigningPublicKey()
	signed := make([]byte, 0, common.AddressHashLength+2*crypto.X25519KeySize+SignallingSize)
	signed = append(signed, l.id[:]...)
	signed = append(signed, l.pub...)
	signed = append(signed, ownerSigPub...)
	signed = append(signed, signalling...)
	sig, err := owner.Sign(signed)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, 0, crypto.SignatureSize+crypto.X25519KeySize+SignallingSize)
	data = append(data, sig...)
	data = append(data, l.pub...)
	data = append(data, signalling...)
	proof := &packet.Packet{
		DestinationType: packet.Link,
		Type:            packet.Proof,
		Destination:     l.id,
		Context:         packet.ContextLRProof,
		Data:            data,
	}

	l.mu.Lock()
	now := l.clock.Now()
	l.state = StateActive
	l.activatedAt = now
	l.lastInbound = now
	l.lastOutbound = now
	l.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":          "link.Accept",
		"link":        l.id.Short(),
		"destination": local.Hash().Short(),
	}).Debug("accepted link request")
	return l, proof, nil
}

// ValidateProof checks a link proof against the destination identity. On
// success the link becomes Active and the returned packet is the RTT
// measurement to send to the responder. A proof that does not verify
// leaves the link awaiting a proof and returns ErrHandshakeFailed; the
// handshake deadline then closes it.
func (l *Link) ValidateProof(proof *packet.Packet) (*packet.Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initiator || l.state != StateAwaitingProof {
		return nil, oops.Wrapf(ErrInvalidState, "proof in state %s", l.state)
	}
	if proof.Type != packet.Proof || proof.Context != packet.ContextLRProof || proof.Destination != l.id {
		return nil, oops.Wrapf(ErrInvalidProof, "not a proof for %s", l.id.Short())
	}
	n := len(proof.Data)
	if n != crypto.SignatureSize+crypto.X25519KeySize && n != crypto.SignatureSize+crypto.X25519KeySize+SignallingSize {
		l.proofFailed = true
		return nil, oops.Wrapf(ErrHandshakeFailed, "proof of %d bytes", n)
	}
	sig := proof.Data[:crypto.SignatureSize]
	peerPub := proof.Data[crypto.SignatureSize : crypto.SignatureSize+crypto.X25519KeySize]
	signalling := proof.Data[crypto.SignatureSize+crypto.X25519KeySize:]

	signed := make([]byte, 0, common.AddressHashLength+2*crypto.X25519KeySize+SignallingSize)
	signed = append(signed, l.id[:]...)
	signed = append(signed, peerPub...)
	signed = append(signed, l.destination.Identity().SigningPublicKey()...)
	signed = append(signed, signalling...)
	if !l.destination.Identity().Verify(signed, sig) {
		l.proofFailed = true
		log.WithFields(logger.Fields{
			"at":     "(Link) ValidateProof",
			"link":   l.id.Short(),
			"reason": "invalid signature",
		}).Warn("rejecting link proof")
		return nil, oops.Wrapf(ErrHandshakeFailed, "%v", crypto.ErrCryptoVerificationFailed)
	}

	l.peerPub = append([]byte(nil), peerPub...)
	if err := l.deriveKey(); err != nil {
		l.proofFailed = true
		return nil, oops.Wrapf(ErrHandshakeFailed, "%v", err)
	}
	if len(signalling) == SignallingSize {
		if mtu, _ := ParseSignalling(signalling); mtu > 0 {
			l.mtu = mtu
		}
	}

	now := l.clock.Now()
	l.rtt = now.Sub(l.requestedAt)
	l.state = StateActive
	l.activatedAt = now
	l.lastInbound = now

	rttPacket, err := l.encryptedLocked(packet.ContextLRRTT, packRTT(l.rtt))
	if err != nil {
		return nil, err
	}
	l.activateLocked()
	log.WithFields(logger.Fields{
		"at":   "(Link) ValidateProof",
		"link": l.id.Short(),
		"rtt":  l.rtt.String(),
	}).Debug("link established")
	return rttPacket, nil
}

func (l *Link) deriveKey() error {
	shared, err := crypto.X25519Shared(l.prv, l.peerPub)
	if err != nil {
		return err
	}
	key, err := identity.DeriveSessionKey(shared, l.id[:], nil)
	if err != nil {
		return err
	}
	tok, err := crypto.NewToken(key)
	if err != nil {
		return err
	}
	l.derivedKey = key
	l.token = tok
	return nil
}

// HandshakeDeadline is when an unanswered request is given up.
func (l *Link) HandshakeDeadline() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createdAt.Add(l.establishmentTimeout())
}
