package packet

import (
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

/*
[Packet]

Description
The unit every interface carries.

Contents
	flags(1) | hops(1) | [ifac] | [transport_id(16)] | destination(16) | context(1) | data

	flags = ifac<<7 | header_type<<6 | context_flag<<5 | propagation<<4 | destination_type<<2 | packet_type

The IFAC flag is not stored; it is implied by a non-empty IFAC field. Data and
IFAC are nil when empty so that Decode(Encode(p)) compares equal to p.
*/
type Packet struct {
	HeaderType      HeaderType
	ContextFlag     bool
	Propagation     PropagationType
	DestinationType DestinationType
	Type            Type
	Hops            byte
	IFAC            []byte
	TransportID     common.AddressHash
	Destination     common.AddressHash
	Context         Context
	Data            []byte
}

// Flags assembles the first header byte.
func (p *Packet) Flags() byte {
	var f byte
	if len(p.IFAC) > 0 {
		f |= 0x80
	}
	f |= byte(p.HeaderType&0x01) << 6
	if p.ContextFlag {
		f |= 0x20
	}
	f |= byte(p.Propagation&0x01) << 4
	f |= byte(p.DestinationType&0x03) << 2
	f |= byte(p.Type & 0x03)
	return f
}

// HeaderSize is the number of bytes in front of Data.
func (p *Packet) HeaderSize() int {
	n := HeaderMinSize + len(p.IFAC)
	if p.HeaderType == Header2 {
		n += AddressLength
	}
	return n
}

// Size is the encoded length.
func (p *Packet) Size() int {
	return p.HeaderSize() + len(p.Data)
}

func (p *Packet) validate() error {
	if p.HeaderType > Header2 || p.Propagation > Transport || p.DestinationType > Link || p.Type > Proof {
		return oops.Wrapf(ErrInvalidFlags, "field out of range")
	}
	if p.HeaderType == Header2 && p.Propagation != Transport {
		return oops.Wrapf(ErrInvalidFlags, "header type 2 requires transport propagation")
	}
	if p.HeaderType == Header1 && !p.TransportID.IsZero() {
		return oops.Wrapf(ErrInvalidFlags, "transport id on a header type 1 packet")
	}
	if (p.Type == Announce || p.Type == LinkRequest) && p.DestinationType != Single {
		return oops.Wrapf(ErrInvalidFlags, "%s must address a single destination, got %s", p.Type, p.DestinationType)
	}
	if p.Size() > MTU {
		return oops.Wrapf(ErrOversized, "%d bytes exceeds %d", p.Size(), MTU)
	}
	return nil
}

// Encode serializes the packet. Encoding is deterministic.
func (p *Packet) Encode() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, p.Size())
	out = append(out, p.Flags(), p.Hops)
	out = append(out, p.IFAC...)
	if p.HeaderType == Header2 {
		out = append(out, p.TransportID[:]...)
	}
	out = append(out, p.Destination[:]...)
	out = append(out, byte(p.Context))
	return append(out, p.Data...), nil
}

// Decode parses a packet from an interface without access codes.
func Decode(raw []byte) (*Packet, error) {
	return DecodeWithIFAC(raw, 0)
}

// DecodeWithIFAC parses raw, expecting an ifacSize byte access code when the
// IFAC flag is set. raw must already be unmasked. A set IFAC flag on an
// interface without access codes is ErrInvalidFlags.
func DecodeWithIFAC(raw []byte, ifacSize int) (*Packet, error) {
	if len(raw) < HeaderMinSize {
		return nil, oops.Wrapf(ErrTruncated, "%d bytes is below the %d byte minimum", len(raw), HeaderMinSize)
	}
	if len(raw) > MTU {
		return nil, oops.Wrapf(ErrOversized, "%d bytes exceeds %d", len(raw), MTU)
	}
	flags := raw[0]
	p := &Packet{
		HeaderType:      HeaderType((flags >> 6) & 0x01),
		ContextFlag:     flags&0x20 != 0,
		Propagation:     PropagationType((flags >> 4) & 0x01),
		DestinationType: DestinationType((flags >> 2) & 0x03),
		Type:            Type(flags & 0x03),
		Hops:            raw[1],
	}

	off := 2
	if flags&0x80 != 0 {
		if ifacSize <= 0 {
			return nil, oops.Wrapf(ErrInvalidFlags, "ifac flag set but interface has no access code")
		}
		if len(raw) < HeaderMinSize+ifacSize {
			return nil, oops.Wrapf(ErrTruncated, "no room for %d byte access code", ifacSize)
		}
		p.IFAC = append([]byte(nil), raw[off:off+ifacSize]...)
		off += ifacSize
	}
	if p.HeaderType == Header2 {
		if len(raw) < off+2*AddressLength+1 {
			return nil, oops.Wrapf(ErrTruncated, "header type 2 needs %d bytes, got %d", off+2*AddressLength+1, len(raw))
		}
		copy(p.TransportID[:], raw[off:off+AddressLength])
		off += AddressLength
	}
	if len(raw) < off+AddressLength+1 {
		return nil, oops.Wrapf(ErrTruncated, "header needs %d bytes, got %d", off+AddressLength+1, len(raw))
	}
	copy(p.Destination[:], raw[off:off+AddressLength])
	off += AddressLength
	p.Context = Context(raw[off])
	off++
	if off < len(raw) {
		p.Data = append([]byte(nil), raw[off:]...)
	}

	if err := p.validate(); err != nil {
		log.WithFields(logger.Fields{
			"at":     "packet.DecodeWithIFAC",
			"flags":  flags,
			"reason": err.Error(),
		}).Debug("rejecting packet")
		return nil, err
	}
	return p, nil
}

// HashablePart is the portion of the packet covered by its hash: the low
// nibble of the flags, the destination, the context and the data. Hops,
// the transport id and the access code are excluded so that a packet keeps
// its hash as it is relayed.
func (p *Packet) HashablePart() []byte {
	out := make([]byte, 0, 1+AddressLength+1+len(p.Data))
	out = append(out, p.Flags()&0x0F)
	out = append(out, p.Destination[:]...)
	out = append(out, byte(p.Context))
	return append(out, p.Data...)
}

// Hash is the full SHA-256 packet hash used for deduplication and proofs.
func (p *Packet) Hash() []byte {
	return crypto.FullHash(p.HashablePart())
}

func (p *Packet) TruncatedHash() common.AddressHash {
	return crypto.TruncatedHash(p.HashablePart())
}

// Kind classifies the packet for dispatch.
func (p *Packet) Kind() Kind {
	switch p.Type {
	case Announce:
		return KindAnnounce
	case LinkRequest:
		return KindLinkRequest
	case Proof:
		return KindProof
	}
	if p.DestinationType == Plain && p.Destination == PathRequestHash {
		return KindPathRequest
	}
	switch p.Context {
	case ContextLinkClose:
		return KindTeardown
	case ContextKeepalive:
		return KindKeepalive
	case ContextLRRTT:
		return KindLinkRTT
	}
	return KindData
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	c := *p
	if p.IFAC != nil {
		c.IFAC = append([]byte(nil), p.IFAC...)
	}
	if p.Data != nil {
		c.Data = append([]byte(nil), p.Data...)
	}
	return &c
}

// ToTransport rewrites a copy of p as a header type 2 packet relayed by
// transportID.
func (p *Packet) ToTransport(transportID common.AddressHash) *Packet {
	c := p.Clone()
	c.HeaderType = Header2
	c.Propagation = Transport
	c.TransportID = transportID
	return c
}

// ToBroadcast strips a header type 2 packet down to header type 1.
func (p *Packet) ToBroadcast() *Packet {
	c := p.Clone()
	c.HeaderType = Header1
	c.Propagation = Broadcast
	c.TransportID = common.AddressHash{}
	return c
}
