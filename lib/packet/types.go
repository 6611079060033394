package packet

import (
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
)

const (
	// MTU is the largest packet any interface carries.
	MTU = 500
	// AddressLength is the width of destination and transport ids on the wire.
	AddressLength = common.AddressHashLength
	// HeaderMinSize is flags, hops, one address and the context byte.
	HeaderMinSize = 2 + 1 + AddressLength
	// HeaderMaxSize adds the transport id carried by header type 2.
	HeaderMaxSize = 2 + 1 + 2*AddressLength
	// IFACMinSize is the smallest access code an interface may use.
	IFACMinSize = 1
	// MDU is the payload space left before any encryption overhead.
	MDU = MTU - HeaderMaxSize - IFACMinSize
)

type HeaderType byte

const (
	Header1 HeaderType = 0
	Header2 HeaderType = 1
)

type PropagationType byte

const (
	Broadcast PropagationType = 0
	Transport PropagationType = 1
)

type DestinationType byte

const (
	Single DestinationType = 0
	Group  DestinationType = 1
	Plain  DestinationType = 2
	Link   DestinationType = 3
)

func (d DestinationType) String() string {
	switch d {
	case Single:
		return "single"
	case Group:
		return "group"
	case Plain:
		return "plain"
	case Link:
		return "link"
	}
	return "unknown"
}

type Type byte

const (
	Data        Type = 0
	Announce    Type = 1
	LinkRequest Type = 2
	Proof       Type = 3
)

func (t Type) String() string {
	switch t {
	case Data:
		return "data"
	case Announce:
		return "announce"
	case LinkRequest:
		return "linkrequest"
	case Proof:
		return "proof"
	}
	return "unknown"
}

// Context qualifies the payload of a packet.
type Context byte

const (
	ContextNone          Context = 0x00
	ContextResource      Context = 0x01
	ContextResourceAdv   Context = 0x02
	ContextResourceReq   Context = 0x03
	ContextResourceHMU   Context = 0x04
	ContextResourcePRF   Context = 0x05
	ContextResourceICL   Context = 0x06
	ContextResourceRCL   Context = 0x07
	ContextCacheRequest  Context = 0x08
	ContextRequest       Context = 0x09
	ContextResponse      Context = 0x0A
	ContextPathResponse  Context = 0x0B
	ContextCommand       Context = 0x0C
	ContextCommandStatus Context = 0x0D
	ContextChannel       Context = 0x0E
	ContextKeepalive     Context = 0xFA
	ContextLinkIdentify  Context = 0xFB
	ContextLinkClose     Context = 0xFC
	ContextLinkProof     Context = 0xFD
	ContextLRRTT         Context = 0xFE
	ContextLRProof       Context = 0xFF
)

// Kind is the logical classification used for dispatch.
type Kind int

const (
	KindData Kind = iota
	KindAnnounce
	KindLinkRequest
	KindProof
	KindPathRequest
	KindTeardown
	KindKeepalive
	KindLinkRTT
)

var kindNames = [...]string{"data", "announce", "linkrequest", "proof", "pathrequest", "teardown", "keepalive", "linkrtt"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// PathRequestName is the plain destination every transport node listens on
// for path requests.
const PathRequestName = "rnstransport.path.request"

// PathRequestHash is the address of PathRequestName.
var PathRequestHash = crypto.TruncatedHash(crypto.NameHash(PathRequestName))
