// Package destination names and addresses endpoints and builds and checks
// the announces that advertise them.
package destination

import (
	"strings"
	"sync"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

type Direction byte

const (
	In  Direction = 0x11
	Out Direction = 0x12
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// PacketCallback receives the decrypted payload of a DATA packet delivered
// to a local destination.
type PacketCallback func(data []byte, p *packet.Packet)

/*
[Destination]

Description
An addressable endpoint. The address is

	SHA-256(name_hash || identity_hash)[:16]

where name_hash = SHA-256("app.aspect1.aspect2")[:10]. Plain and group
destinations have no identity and hash the name hash alone.
*/
type Destination struct {
	identity  *identity.Identity
	Type      packet.DestinationType
	Direction Direction
	AppName   string
	Aspects   []string

	nameHash []byte
	hash     common.AddressHash

	mu          sync.RWMutex
	groupToken  *crypto.Token
	groupKey    []byte
	callback    PacketCallback
	acceptLinks bool
	appData     []byte
}

// New creates a destination. Single destinations need an identity, plain
// and group destinations must not carry one, and link destinations are only
// created by the link handshake.
func New(id *identity.Identity, dir Direction, typ packet.DestinationType, appName string, aspects ...string) (*Destination, error) {
	switch typ {
	case packet.Single:
		if id == nil {
			return nil, ErrIdentityRequired
		}
	case packet.Group, packet.Plain:
		if id != nil {
			return nil, oops.Wrapf(ErrUnexpectedIdentity, "%s destination", typ)
		}
	default:
		return nil, oops.Wrapf(ErrInvalidType, "cannot construct %s destination", typ)
	}
	name, err := ExpandName(appName, aspects...)
	if err != nil {
		return nil, err
	}
	d := &Destination{
		identity:    id,
		Type:        typ,
		Direction:   dir,
		AppName:     appName,
		Aspects:     append([]string(nil), aspects...),
		nameHash:    crypto.NameHash(name),
		acceptLinks: true,
	}
	d.hash = addressHash(d.nameHash, id)
	log.WithFields(logger.Fields{
		"at":   "destination.New",
		"name": name,
		"type": typ.String(),
		"hash": d.hash.Short(),
	}).Debug("created destination")
	return d, nil
}

// ExpandName joins the app name and aspects with dots, rejecting components
// that would make the expansion ambiguous.
func ExpandName(appName string, aspects ...string) (string, error) {
	if appName == "" {
		return "", oops.Wrapf(ErrInvalidName, "empty app name")
	}
	if strings.Contains(appName, ".") {
		return "", oops.Wrapf(ErrInvalidName, "dots are not allowed in app name %q", appName)
	}
	for _, a := range aspects {
		if strings.Contains(a, ".") {
			return "", oops.Wrapf(ErrInvalidName, "dots are not allowed in aspect %q", a)
		}
	}
	return strings.Join(append([]string{appName}, aspects...), "."), nil
}

// Hash computes the address of a destination without constructing it.
func Hash(id *identity.Identity, appName string, aspects ...string) (common.AddressHash, error) {
	name, err := ExpandName(appName, aspects...)
	if err != nil {
		return common.AddressHash{}, err
	}
	return addressHash(crypto.NameHash(name), id), nil
}

func addressHash(nameHash []byte, id *identity.Identity) common.AddressHash {
	if id == nil {
		return crypto.TruncatedHash(nameHash)
	}
	idHash := id.Hash()
	return crypto.TruncatedHash(nameHash, idHash[:])
}

func (d *Destination) Hash() common.AddressHash {
	return d.hash
}

func (d *Destination) NameHash() []byte {
	return append([]byte(nil), d.nameHash...)
}

func (d *Destination) Identity() *identity.Identity {
	return d.identity
}

// Name returns the expanded dotted name.
func (d *Destination) Name() string {
	return strings.Join(append([]string{d.AppName}, d.Aspects...), ".")
}

func (d *Destination) String() string {
	return "<" + d.Name() + ":" + d.hash.String() + ">"
}

// SetPacketCallback installs the handler for inbound DATA packets.
func (d *Destination) SetPacketCallback(cb PacketCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

// SetAcceptLinks controls whether inbound link requests are answered.
func (d *Destination) SetAcceptLinks(accept bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acceptLinks = accept
}

func (d *Destination) AcceptsLinks() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.acceptLinks && d.Type == packet.Single && d.Direction == In
}

// SetDefaultAppData sets the app data used when Announce is called with nil.
func (d *Destination) SetDefaultAppData(appData []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.appData = append([]byte(nil), appData...)
}

// Receive decrypts an inbound DATA packet and hands it to the packet
// callback. It reports whether the payload was delivered.
func (d *Destination) Receive(p *packet.Packet) bool {
	plain, err := d.Decrypt(p.Data)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Destination) Receive",
			"hash":   d.hash.Short(),
			"reason": err.Error(),
		}).Debug("dropping undecryptable packet")
		return false
	}
	d.mu.RLock()
	cb := d.callback
	d.mu.RUnlock()
	if cb == nil {
		return false
	}
	cb(plain, p)
	return true
}

// NewPacket encrypts data for the destination and wraps it in a DATA packet.
func (d *Destination) NewPacket(data []byte) (*packet.Packet, error) {
	payload, err := d.Encrypt(data)
	if err != nil {
		return nil, err
	}
	return &packet.Packet{
		DestinationType: d.Type,
		Type:            packet.Data,
		Destination:     d.hash,
		Context:         packet.ContextNone,
		Data:            payload,
	}, nil
}
