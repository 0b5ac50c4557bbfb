// Package artnet turns a tick engine frame of per-fixture attribute bundles
// into Art-Net DMX512 UDP packets and broadcasts them onto the network. The
// dirty-universe bookkeeping and UDP dial-and-write style are adapted from
// the DMX output services seen across the wider lighting-control corpus,
// rather than from the teacher repo — the teacher has no lighting-specific
// component to imitate here, only its own UDP-based resources' pattern of
// dialing a connectionless socket once and writing to it per send.
package artnet

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/lumenstage/lumen/internal/errwrap"
	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/ports"
	"github.com/lumenstage/lumen/internal/tickengine"
)

// UniverseSize is the number of DMX channels in one universe.
const UniverseSize = 512

const (
	opCodeDMX  = 0x5000
	protVer    = 0x000e
	artNetPort = 6454
)

var artNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

// BuildDMXPacket frames one Art-Net ArtDMX packet for the given universe and
// 512-byte channel payload, per spec.md §6's byte layout: the 8-byte ID, a
// little-endian OpCode, a big-endian ProtVer, the given sequence and a fixed
// physical port of 0, the universe as little-endian, the payload length as
// big-endian, and the payload itself.
func BuildDMXPacket(universe uint16, data []byte, sequence byte) []byte {
	payload := make([]byte, UniverseSize)
	copy(payload, data)

	buf := make([]byte, 0, 18+UniverseSize)
	buf = append(buf, artNetID[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, opCodeDMX)
	buf = binary.BigEndian.AppendUint16(buf, protVer)
	buf = append(buf, sequence, 0) // Sequence, Physical
	buf = binary.LittleEndian.AppendUint16(buf, universe)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// Config controls the bridge's network behavior.
type Config struct {
	Enabled       bool
	BroadcastAddr string // host only; port is always artNetPort unless overridden
	Port          int
}

// DefaultConfig mirrors the defaults an operator gets with no environment
// overrides: broadcast to the conventional Art-Net broadcast address on the
// standard Art-Net port.
func DefaultConfig() Config {
	return Config{Enabled: true, BroadcastAddr: "2.255.255.255", Port: artNetPort}
}

// Bridge owns one UDP socket and the per-universe DMX buffers it keeps in
// sync with incoming tick engine frames.
type Bridge struct {
	Logf func(format string, v ...interface{})

	cfg  Config
	conn *net.UDPConn

	mu        sync.Mutex
	universes map[uint16][]byte
	dirty     map[uint16]bool
	sequence  map[uint16]byte

	fixtures func() (map[string]model.Fixture, map[string]model.FixtureModel)

	sendFailures uint64
}

// New builds a Bridge. fixtureLookup is called once per frame to resolve the
// current fixture patch and fixture model set; the bridge never caches it
// across frames so patch edits take effect on the very next frame.
func New(cfg Config, fixtureLookup func() (map[string]model.Fixture, map[string]model.FixtureModel), logf func(format string, v ...interface{})) *Bridge {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Bridge{
		Logf:      logf,
		cfg:       cfg,
		universes: map[uint16][]byte{},
		dirty:     map[uint16]bool{},
		sequence:  map[uint16]byte{},
		fixtures:  fixtureLookup,
	}
}

// Open dials the broadcast UDP socket. It is a no-op if the bridge is
// configured disabled, matching the "simulation mode" the lacylights DMX
// service falls back to when Art-Net output is off.
func (b *Bridge) Open() error {
	if !b.cfg.Enabled {
		b.Logf("artnet: disabled, running without network output")
		return nil
	}
	port := b.cfg.Port
	if port == 0 {
		port = artNetPort
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", b.cfg.BroadcastAddr, port))
	if err != nil {
		return fmt.Errorf("artnet: resolving broadcast address: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("artnet: dialing broadcast socket: %w", err)
	}
	b.conn = conn
	b.Logf("artnet: broadcasting to %s:%d", b.cfg.BroadcastAddr, port)
	return nil
}

// Close sends an all-zero blackout packet for every known universe, then
// closes the socket.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	zero := make([]byte, UniverseSize)
	for universe := range b.universes {
		b.universes[universe] = zero
		b.send(universe)
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Send renders a tick engine Frame into per-fixture DMX channel bytes and
// transmits every universe that at least one of the frame's fixtures lives
// in, whether or not its bytes changed. Universes no frame fixture touches
// are not sent. Per-universe send failures never stop the others from being
// attempted; they're accumulated into one returned error via errwrap.Append,
// the same way compiler passes 4-6 collect every CompileError they find
// instead of aborting at the first one.
func (b *Bridge) Send(frame tickengine.Frame) error {
	fixtures, models := b.fixtures()

	b.mu.Lock()
	defer b.mu.Unlock()

	touched := map[uint16]bool{}
	for fixtureID, bundle := range frame.Writes {
		fx, ok := fixtures[fixtureID]
		if !ok {
			continue
		}
		fm, ok := models[fx.ModelID]
		if !ok {
			continue
		}
		universe := fx.Universe
		buf := b.universeBuf(universe)
		encodeFixture(buf, fx, fm, bundle)
		touched[universe] = true
	}

	universeIDs := make([]uint16, 0, len(touched))
	for u := range touched {
		universeIDs = append(universeIDs, u)
	}
	sort.Slice(universeIDs, func(i, j int) bool { return universeIDs[i] < universeIDs[j] })
	var reterr error
	for _, u := range universeIDs {
		reterr = errwrap.Append(reterr, b.send(u))
	}
	return reterr
}

func (b *Bridge) universeBuf(universe uint16) []byte {
	buf, ok := b.universes[universe]
	if !ok {
		buf = make([]byte, UniverseSize)
		b.universes[universe] = buf
	}
	return buf
}

// encodeFixture writes one fixture's attribute bundle into its slice of the
// universe buffer and reports whether anything actually changed.
func encodeFixture(buf []byte, fx model.Fixture, fm model.FixtureModel, bundle ports.AttributeBundle) bool {
	changed := false
	set := func(role model.ChannelRole, value float64) {
		offset, ok := fm.Channels[role]
		if !ok {
			return
		}
		idx := fx.StartChannel - 1 + offset - 1
		if idx < 0 || idx >= len(buf) {
			return
		}
		b := to8bit(value)
		if buf[idx] != b {
			buf[idx] = b
			changed = true
		}
	}
	setFine := func(coarse, fine model.ChannelRole, value float64) {
		coarseOff, hasCoarse := fm.Channels[coarse]
		if !hasCoarse {
			return
		}
		v16 := to16bit(value)
		idx := fx.StartChannel - 1 + coarseOff - 1
		if idx >= 0 && idx < len(buf) {
			hi := byte(v16 >> 8)
			if buf[idx] != hi {
				buf[idx] = hi
				changed = true
			}
		}
		if fineOff, ok := fm.Channels[fine]; ok {
			fidx := fx.StartChannel - 1 + fineOff - 1
			if fidx >= 0 && fidx < len(buf) {
				lo := byte(v16 & 0xff)
				if buf[fidx] != lo {
					buf[fidx] = lo
					changed = true
				}
			}
		}
	}

	if bundle.Intensity != nil {
		set(model.RoleDimmer, *bundle.Intensity)
	}
	if bundle.Color != nil {
		set(model.RoleRed, bundle.Color.R)
		set(model.RoleGreen, bundle.Color.G)
		set(model.RoleBlue, bundle.Color.B)
	}
	if bundle.Pan != nil {
		setFine(model.RolePan, model.RolePanFine, normalizeSigned(*bundle.Pan))
	}
	if bundle.Tilt != nil {
		setFine(model.RoleTilt, model.RoleTiltFine, normalizeSigned(*bundle.Tilt))
	}
	if bundle.Zoom != nil {
		set(model.RoleZoom, *bundle.Zoom)
	}
	return changed
}

// normalizeSigned maps a [-1,1] pan/tilt value into [0,1] for channel
// encoding.
func normalizeSigned(v float64) float64 { return (ports.Clip(v, -1, 1) + 1) / 2 }

func to8bit(v float64) byte {
	v = ports.Clip(v, 0, 1)
	return byte(v*255 + 0.5)
}

func to16bit(v float64) uint16 {
	v = ports.Clip(v, 0, 1)
	return uint16(v*65535 + 0.5)
}

func (b *Bridge) send(universe uint16) error {
	seq := b.sequence[universe] + 1
	if seq == 0 {
		seq = 1 // sequence wraps 1..255, never re-sends 0
	}
	b.sequence[universe] = seq
	if b.conn == nil {
		return nil
	}

	packet := BuildDMXPacket(universe, b.universes[universe], seq)
	if _, err := b.conn.Write(packet); err != nil {
		b.sendFailures++
		b.Logf("artnet: send failed for universe %d: %v", universe, err)
		return errwrap.Wrapf(err, "artnet: universe %d", universe)
	}
	return nil
}

// SendFailures returns the running count of failed packet writes, for
// metrics reporting.
func (b *Bridge) SendFailures() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendFailures
}
