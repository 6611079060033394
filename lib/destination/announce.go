package destination

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	// RandomHashLength is 5 random bytes followed by a 5 byte emission time.
	RandomHashLength = 10
	// RatchetLength is the X25519 ratchet key carried when the context flag is set.
	RatchetLength = crypto.X25519KeySize

	announceMinLength = identity.PublicKeySize + crypto.NameHashLength + RandomHashLength + crypto.SignatureSize
)

/*
[Announce]

Description
Signed advertisement of a destination.

Contents
	public_key(64) | name_hash(10) | random_hash(10) | [ratchet(32)] | signature(64) | app_data

The signature covers destination_hash | public_key | name_hash | random_hash
| [ratchet] | app_data. The ratchet is present when the packet context flag
is set.
*/
type AnnounceInfo struct {
	Destination common.AddressHash
	Identity    *identity.Identity
	NameHash    []byte
	RandomHash  []byte
	Ratchet     []byte
	Signature   []byte
	AppData     []byte
}

// Emitted returns the emission time embedded in the random hash.
func (a *AnnounceInfo) Emitted() time.Time {
	return time.Unix(EmissionTime(a.RandomHash), 0)
}

// EmissionTime decodes the big endian seconds stored in bytes 5..10 of a
// random hash.
func EmissionTime(randomHash []byte) int64 {
	if len(randomHash) < RandomHashLength {
		return 0
	}
	var buf [8]byte
	copy(buf[3:], randomHash[5:RandomHashLength])
	return int64(binary.BigEndian.Uint64(buf[:]))
}

func newRandomHash(now time.Time) ([]byte, error) {
	rnd, err := crypto.RandomBytes(5)
	if err != nil {
		return nil, err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now.Unix()))
	return append(rnd, ts[3:]...), nil
}

// Announce builds a signed announce packet. The random hash is generated
// once here; encoding the returned packet again reproduces the same bytes.
// A nil appData falls back to the default app data.
func (d *Destination) Announce(appData []byte) (*packet.Packet, error) {
	return d.AnnounceAt(appData, time.Now())
}

// AnnounceAt is Announce with the emission time stamped as now.
func (d *Destination) AnnounceAt(appData []byte, now time.Time) (*packet.Packet, error) {
	return d.announce(appData, packet.ContextNone, now)
}

// PathResponse builds an announce answering a path request.
func (d *Destination) PathResponse(appData []byte) (*packet.Packet, error) {
	return d.PathResponseAt(appData, time.Now())
}

func (d *Destination) PathResponseAt(appData []byte, now time.Time) (*packet.Packet, error) {
	return d.announce(appData, packet.ContextPathResponse, now)
}

func (d *Destination) announce(appData []byte, ctx packet.Context, now time.Time) (*packet.Packet, error) {
	if d.Type != packet.Single || d.Direction != In {
		return nil, oops.Wrapf(ErrNotAnnounceable, "%s %s destination", d.Direction, d.Type)
	}
	if !d.identity.HasPrivateKey() {
		return nil, oops.Wrapf(ErrNotAnnounceable, "%v", identity.ErrNoPrivateKey)
	}
	if appData == nil {
		d.mu.RLock()
		appData = d.appData
		d.mu.RUnlock()
	}
	randomHash, err := newRandomHash(now)
	if err != nil {
		return nil, err
	}
	pub := d.identity.PublicKey()

	signed := make([]byte, 0, common.AddressHashLength+announceMinLength+len(appData))
	signed = append(signed, d.hash[:]...)
	signed = append(signed, pub...)
	signed = append(signed, d.nameHash...)
	signed = append(signed, randomHash...)
	signed = append(signed, appData...)
	sig, err := d.identity.Sign(signed)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, announceMinLength+len(appData))
	data = append(data, pub...)
	data = append(data, d.nameHash...)
	data = append(data, randomHash...)
	data = append(data, sig...)
	data = append(data, appData...)

	p := &packet.Packet{
		DestinationType: packet.Single,
		Type:            packet.Announce,
		Destination:     d.hash,
		Context:         ctx,
		Data:            data,
	}
	if p.Size() > packet.MTU {
		return nil, oops.Wrapf(packet.ErrOversized, "announce with %d bytes of app data", len(appData))
	}
	log.WithFields(logger.Fields{
		"at":      "(Destination) Announce",
		"hash":    d.hash.Short(),
		"context": ctx,
	}).Debug("built announce")
	return p, nil
}

// ValidateAnnounce parses an announce packet and checks its signature and
// that the destination hash is bound to the embedded key and name hash.
func ValidateAnnounce(p *packet.Packet) (*AnnounceInfo, error) {
	if p.Type != packet.Announce {
		return nil, oops.Wrapf(ErrInvalidAnnounce, "packet type %s", p.Type)
	}
	minLen := announceMinLength
	if p.ContextFlag {
		minLen += RatchetLength
	}
	if len(p.Data) < minLen {
		return nil, oops.Wrapf(ErrInvalidAnnounce, "%d bytes is below the %d byte minimum", len(p.Data), minLen)
	}

	off := 0
	take := func(n int) []byte {
		b := append([]byte(nil), p.Data[off:off+n]...)
		off += n
		return b
	}
	pub := take(identity.PublicKeySize)
	info := &AnnounceInfo{Destination: p.Destination}
	info.NameHash = take(crypto.NameHashLength)
	info.RandomHash = take(RandomHashLength)
	if p.ContextFlag {
		info.Ratchet = take(RatchetLength)
	}
	info.Signature = take(crypto.SignatureSize)
	if off < len(p.Data) {
		info.AppData = take(len(p.Data) - off)
	}

	id, err := identity.FromPublicKey(pub)
	if err != nil {
		return nil, oops.Wrapf(ErrInvalidAnnounce, "%v", err)
	}
	info.Identity = id

	signed := make([]byte, 0, len(p.Data)+common.AddressHashLength)
	signed = append(signed, p.Destination[:]...)
	signed = append(signed, pub...)
	signed = append(signed, info.NameHash...)
	signed = append(signed, info.RandomHash...)
	signed = append(signed, info.Ratchet...)
	signed = append(signed, info.AppData...)
	if !id.Verify(signed, info.Signature) {
		return nil, oops.Wrapf(crypto.ErrCryptoVerificationFailed, "announce signature for %s", p.Destination.Short())
	}

	if expected := addressHash(info.NameHash, id); !expected.Equal(p.Destination) {
		return nil, oops.Wrapf(ErrInvalidAnnounce, "destination %s does not match key and name, expected %s",
			p.Destination.Short(), expected.Short())
	}
	return info, nil
}

// Recall builds an outbound destination from a validated announce.
func (a *AnnounceInfo) Recall(appName string, aspects ...string) (*Destination, error) {
	d, err := New(a.Identity, Out, packet.Single, appName, aspects...)
	if err != nil {
		return nil, err
	}
	if !d.hash.Equal(a.Destination) {
		return nil, oops.Wrapf(ErrInvalidAnnounce, "announce for %s is not %s", a.Destination.Short(), d.Name())
	}
	return d, nil
}
