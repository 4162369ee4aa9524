package radio

import (
	"bytes"
	"testing"

	"roomlink.dev/ccm"
)

func TestMacHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:             FrameData,
		AckRequest:       true,
		PANIDCompression: true,
		Sequence:         7,
		DestPANID:        0x1234,
		DestAddr:         0x5678,
		DestAddrMode:     AddressShort,
		SrcAddr:          0x0102030405060708,
		SrcAddrMode:      AddressExtended,
	}
	payload := []byte{1, 2, 3, 4}
	frame := EncodeHeader(h, payload)

	got, rest, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != h.Type || got.DestAddr != h.DestAddr || got.SrcAddr != h.SrcAddr {
		t.Fatalf("got %+v, want %+v", got, h)
	}
	if got.SrcPANID != h.DestPANID {
		t.Fatalf("PAN ID compression not reconstructed: got %#x want %#x", got.SrcPANID, h.DestPANID)
	}
	if !bytes.Equal(rest, payload) {
		t.Fatalf("got payload %v, want %v", rest, payload)
	}
}

func TestFilterContextAccepts(t *testing.T) {
	ctx := FilterContext{Flags: FilterDestShort | FilterTypeBeacon, PANID: 0x1234, ShortAddress: 0x0001}
	beacon := Header{Type: FrameBeacon}
	if !ctx.Accepts(beacon) {
		t.Fatal("expected beacon to pass TYPE_BEACON filter")
	}
	addressed := Header{Type: FrameData, DestAddrMode: AddressShort, DestPANID: 0x1234, DestAddr: 0x0001}
	if !ctx.Accepts(addressed) {
		t.Fatal("expected frame addressed to our short address to pass")
	}
	other := Header{Type: FrameData, DestAddrMode: AddressShort, DestPANID: 0x1234, DestAddr: 0x0002}
	if ctx.Accepts(other) {
		t.Fatal("expected frame addressed to a different short address to be rejected")
	}
}

func TestDispatchDeliversToMatchingContexts(t *testing.T) {
	contexts := []FilterContext{
		{Flags: FilterDestShort, PANID: 0x1234, ShortAddress: 0x0001},
		{Flags: FilterPassAll},
	}
	h := Header{Type: FrameData, DestAddrMode: AddressShort, DestPANID: 0x1234, DestAddr: 0x0001}
	frame := EncodeHeader(h, []byte{0xaa})

	var delivered []int
	err := Dispatch(contexts, frame, func(ctx int, h Header, rest []byte) {
		delivered = append(delivered, ctx)
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(delivered) != 2 || delivered[0] != 0 || delivered[1] != 1 {
		t.Fatalf("got %v, want [0 1]", delivered)
	}
}

func TestSecurityEncryptDecryptRoundTrip(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))
	ks := ccm.ExpandKey(key)

	h := SecurityHeader{Level: LevelEncMIC32, KeyIdentifier: KeyNetwork, FrameCounter: 42}
	header := []byte{0xde, 0xad, 0xbe, 0xef}
	plain := []byte("switch pressed")

	encrypted := Encrypt(ks, 0x0102030405060708, h, header, plain)

	got, ok := Decrypt(ks, 0x0102030405060708, header, encrypted[len(header):])
	if !ok {
		t.Fatal("decrypt failed to authenticate a frame it encrypted itself")
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("got %q, want %q", got, plain)
	}
}

func TestSecurityDecryptRejectsTamperedFrame(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))
	ks := ccm.ExpandKey(key)

	h := SecurityHeader{Level: LevelEncMIC32, FrameCounter: 1}
	header := []byte{0x01}
	encrypted := Encrypt(ks, 0xaa, h, header, []byte("on"))
	encrypted[len(encrypted)-1] ^= 0xff

	if _, ok := Decrypt(ks, 0xaa, header, encrypted[len(header):]); ok {
		t.Fatal("expected tampered frame to fail authentication")
	}
}

func TestAuthenticateOnlyRoundTrip(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("fedcba9876543210"))
	ks := ccm.ExpandKey(key)

	h := SecurityHeader{Level: LevelMIC32, FrameCounter: 3}
	header := []byte{0x01, 0x02}
	plain := []byte("broadcast status")
	encrypted := Encrypt(ks, 0x1, h, header, plain)

	got, ok := Decrypt(ks, 0x1, header, encrypted[len(header):])
	if !ok {
		t.Fatal("authenticate-only decrypt failed")
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("got %q, want %q", got, plain)
	}
}

func TestNwkHeaderRoundTrip(t *testing.T) {
	h := NwkHeader{
		Type:        NwkData,
		Version:     ProtocolVersion2,
		Destination: 0x0001,
		Source:      0x0002,
		Radius:      5,
		Sequence:    9,
	}
	frame := EncodeNwkHeader(h)
	got, rest, err := DecodeNwkHeader(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes %v", rest)
	}
}

func TestApsHeaderRoundTrip(t *testing.T) {
	h := ApsHeader{
		Type:         ApsData,
		Delivery:     ApsUnicast,
		DestEndpoint: 1,
		Cluster:      uint16(ClusterOnOff),
		Profile:      uint16(ProfileHomeAutomation),
		SrcEndpoint:  1,
		Counter:      3,
	}
	frame := EncodeApsHeader(h)
	got, rest, err := DecodeApsHeader(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes %v", rest)
	}
}

func TestZclOnOffCommandRoundTrip(t *testing.T) {
	h := ZclHeader{Type: ZclClusterSpecific, Direction: ZclClientToServer, Sequence: 1, Command: byte(OnOffOn)}
	frame := EncodeZclHeader(h, nil)
	got, rest, err := DecodeZclHeader(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Command != byte(OnOffOn) || got.Type != ZclClusterSpecific {
		t.Fatalf("got %+v", got)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes %v", rest)
	}
}

func TestParseReportAttributes(t *testing.T) {
	payload := append(
		EncodeReportAttribute(OnOffAttribute, ZclBool, []byte{1}),
		EncodeReportAttribute(PowerConfigBatteryPercentage, ZclUint8, []byte{200})...,
	)
	attrs, err := ParseReportAttributes(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(attrs) != 2 {
		t.Fatalf("got %d attributes, want 2", len(attrs))
	}
	v, ok := AttributeFloat(attrs[0])
	if !ok || v != 1 {
		t.Fatalf("got %v, %v", v, ok)
	}
	v, ok = AttributeFloat(attrs[1])
	if !ok || v != 200 {
		t.Fatalf("got %v, %v", v, ok)
	}
}

func TestGPCommissioningRoundTrip(t *testing.T) {
	payload := []byte{byte(GPDeviceGenericSwitch), byte(GPOptExtended)}
	payload = append(payload, byte(GPExtOptKeyPresent)|byte(GPSecurityCnt32Mic32))
	var key [16]byte
	copy(key[:], []byte("aaaaaaaaaaaaaaaa"))
	payload = append(payload, key[:]...)

	c, err := ParseCommissioning(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !c.KeyPresent || c.Key != key {
		t.Fatalf("got %+v", c)
	}
	if c.DeviceType != GPDeviceGenericSwitch {
		t.Fatalf("got device type %v", c.DeviceType)
	}
}

func TestAssociatorAssignsAndRemembersAddresses(t *testing.T) {
	a := NewAssociator(1)
	a.HandleAssociationRequest(0xaabbccdd, CapAllocateAddress)
	if !a.HasPending(0xaabbccdd) {
		t.Fatal("expected pending response")
	}
	payload, ok := a.HandleDataRequest(0xaabbccdd)
	if !ok {
		t.Fatal("expected a queued response")
	}
	if a.HasPending(0xaabbccdd) {
		t.Fatal("response should be consumed after delivery")
	}
	short, ok := a.ShortAddress(0xaabbccdd)
	if !ok || short != 1 {
		t.Fatalf("got short address %d, ok=%v", short, ok)
	}
	if len(payload) != 3 {
		t.Fatalf("unexpected payload length %d", len(payload))
	}

	// A second request from the same device reuses its address rather
	// than handing out a new one.
	a.HandleAssociationRequest(0xaabbccdd, CapAllocateAddress)
	payload2, _ := a.HandleDataRequest(0xaabbccdd)
	if !bytes.Equal(payload, payload2) {
		t.Fatalf("expected same short address on rejoin, got %v vs %v", payload, payload2)
	}
}

func TestCoordinatorDispatchesZclCommand(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("networkkey123456"))
	ks := ccm.ExpandKey(key)

	coord := NewCoordinator(0x1234, ks)
	dev := &ZigbeeDevice{
		ExtendedAddress: 0x0102030405060708,
		ShortAddress:    0x0002,
		NetworkKey:      ks,
		Endpoints:       []Endpoint{{Number: 1, Profile: ProfileHomeAutomation, Cluster: ClusterOnOff}},
	}
	coord.AddDevice(dev)

	var gotCommand byte
	coord.OnZCLCommand = func(d *ZigbeeDevice, ep Endpoint, h ZclHeader, payload []byte) []byte {
		gotCommand = h.Command
		return nil
	}

	nh := NwkHeader{Type: NwkData, Destination: 0x0000, Source: 0x0002, Radius: 1, Sequence: 1}
	ah := ApsHeader{Type: ApsData, Delivery: ApsUnicast, DestEndpoint: 1, Cluster: uint16(ClusterOnOff), Profile: uint16(ProfileHomeAutomation), SrcEndpoint: 1, Counter: 1}
	zh := ZclHeader{Type: ZclClusterSpecific, Sequence: 1, Command: byte(OnOffOn)}
	zclFrame := EncodeZclHeader(zh, nil)
	apsFrame := append(EncodeApsHeader(ah), zclFrame...)
	nwkFrame := append(EncodeNwkHeader(nh), apsFrame...)

	macHeader := Header{Type: FrameData, DestAddrMode: AddressShort, DestPANID: 0x1234, DestAddr: 0x0000, SrcAddrMode: AddressShort, SrcPANID: 0x1234, SrcAddr: 0x0002}
	frame := EncodeHeader(macHeader, nwkFrame)

	if err := coord.HandleFrame(frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if gotCommand != byte(OnOffOn) {
		t.Fatalf("got command %#x, want ON", gotCommand)
	}
}

func TestCoordinatorDispatchesGPCommand(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("greenpowerkey123"))
	ks := ccm.ExpandKey(key)
	var netKey [16]byte
	netKeySchedule := ccm.ExpandKey(netKey)

	coord := NewCoordinator(0x1234, netKeySchedule)
	zgpd := &ZGPDevice{DeviceID: 0xdeadbeef, Key: ks, Type: GPDeviceGenericSwitch}
	coord.AddGPDevice(zgpd)

	var gotCommand GPCommandID
	coord.OnGPCommand = func(d *ZGPDevice, command GPCommandID) {
		gotCommand = command
	}

	fc := byte(GPData) | byte(ProtocolVersionGP)<<gpFcVersionShift | gpFcExtended
	ext := byte(GPSecurityCnt32Mic32) << gpExtSecurityLevelShift
	nwkFrame := []byte{fc, 1, ext}
	var tmp [4]byte
	putLE32(tmp[:], zgpd.DeviceID)
	nwkFrame = append(nwkFrame, tmp[:]...)
	putLE32(tmp[:], 1) // security counter
	nwkFrame = append(nwkFrame, tmp[:]...)
	nwkFrame = append(nwkFrame, byte(GPScene1))

	nonce := GPNonce(zgpd.DeviceID, 1)
	mic := make([]byte, 4)
	ccm.Encrypt(mic, ks, nonce, nwkFrame, nil, 4)
	nwkFrame = append(nwkFrame, mic...)

	macHeader := Header{Type: FrameData, DestAddrMode: AddressShort, DestPANID: 0xffff, DestAddr: 0xffff}
	frame := EncodeHeader(macHeader, nwkFrame)

	if err := coord.HandleFrame(frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if gotCommand != GPScene1 {
		t.Fatalf("got command %#x, want SCENE1", gotCommand)
	}
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
