package artnet

import (
	"testing"

	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/ports"
	"github.com/lumenstage/lumen/internal/tickengine"
)

func TestArtnetT1_PacketHeaderLayout(t *testing.T) {
	data := make([]byte, UniverseSize)
	data[0] = 0xff
	packet := BuildDMXPacket(7, data, 42)

	if string(packet[0:8]) != "Art-Net\x00" {
		t.Fatalf("unexpected ID bytes: %q", packet[0:8])
	}
	opcode := uint16(packet[8]) | uint16(packet[9])<<8
	if opcode != opCodeDMX {
		t.Fatalf("expected little-endian opcode 0x5000, got 0x%x", opcode)
	}
	protVerGot := uint16(packet[10])<<8 | uint16(packet[11])
	if protVerGot != protVer {
		t.Fatalf("expected big-endian ProtVer 0x000e, got 0x%x", protVerGot)
	}
	if packet[12] != 42 {
		t.Fatalf("expected sequence byte 42, got %d", packet[12])
	}
	if packet[13] != 0 {
		t.Fatalf("expected physical byte 0, got %d", packet[13])
	}
	universeGot := uint16(packet[14]) | uint16(packet[15])<<8
	if universeGot != 7 {
		t.Fatalf("expected little-endian universe 7, got %d", universeGot)
	}
	lengthGot := uint16(packet[16])<<8 | uint16(packet[17])
	if lengthGot != UniverseSize {
		t.Fatalf("expected big-endian length 512, got %d", lengthGot)
	}
	if len(packet) != 18+UniverseSize {
		t.Fatalf("expected total packet length %d, got %d", 18+UniverseSize, len(packet))
	}
	if packet[18] != 0xff {
		t.Fatalf("expected first DMX data byte to be preserved")
	}
}

func TestArtnetT2_EncodeFixtureDimmerAndColor(t *testing.T) {
	fx := model.Fixture{ID: "fx1", ModelID: "m1", Universe: 1, StartChannel: 1}
	fm := model.FixtureModel{ID: "m1", Channels: map[model.ChannelRole]int{
		model.RoleDimmer: 1, model.RoleRed: 2, model.RoleGreen: 3, model.RoleBlue: 4,
	}}
	intensity := 1.0
	bundle := ports.AttributeBundle{Intensity: &intensity, Color: &ports.RGB{R: 1, G: 0.5, B: 0}}

	buf := make([]byte, UniverseSize)
	changed := encodeFixture(buf, fx, fm, bundle)
	if !changed {
		t.Fatalf("expected a change")
	}
	if buf[0] != 255 {
		t.Fatalf("expected dimmer channel at 255, got %d", buf[0])
	}
	if buf[1] != 255 {
		t.Fatalf("expected red channel at 255, got %d", buf[1])
	}
	if buf[3] != 0 {
		t.Fatalf("expected blue channel at 0, got %d", buf[3])
	}
}

func TestArtnetT3_PanTiltFineChannels(t *testing.T) {
	fx := model.Fixture{ID: "fx1", ModelID: "m1", Universe: 1, StartChannel: 1}
	fm := model.FixtureModel{ID: "m1", Channels: map[model.ChannelRole]int{
		model.RolePan: 1, model.RolePanFine: 2,
	}}
	pan := 1.0 // normalized fully-clockwise
	bundle := ports.AttributeBundle{Pan: &pan}

	buf := make([]byte, UniverseSize)
	encodeFixture(buf, fx, fm, bundle)
	if buf[0] != 255 {
		t.Fatalf("expected pan coarse channel near max, got %d", buf[0])
	}
}

func TestArtnetT4_SequenceWrapsSkippingZero(t *testing.T) {
	b := New(DefaultConfig(), func() (map[string]model.Fixture, map[string]model.FixtureModel) {
		return nil, nil
	}, nil)
	b.universes[1] = make([]byte, UniverseSize)
	b.sequence[1] = 255
	b.send(1) // would overflow to 0, must become 1
	if b.sequence[1] != 1 {
		t.Fatalf("expected sequence to wrap from 255 to 1, got %d", b.sequence[1])
	}
}

func TestArtnetT5_SendSkipsUnknownFixturesAndModels(t *testing.T) {
	b := New(DefaultConfig(), func() (map[string]model.Fixture, map[string]model.FixtureModel) {
		return map[string]model.Fixture{}, map[string]model.FixtureModel{}
	}, nil)
	intensity := 1.0
	frame := tickengine.Frame{Writes: map[string]ports.AttributeBundle{"fx-missing": {Intensity: &intensity}}}
	b.Send(frame) // should not panic despite the fixture being unknown
	if len(b.universes) != 0 {
		t.Fatalf("expected no universes to be touched for an unknown fixture")
	}
}
