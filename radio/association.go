package radio

import (
	"encoding/binary"
	"errors"
)

// MacCommand enumerates 802.15.4 MAC command frame identifiers (the
// subset this coordinator's association sequence uses).
type MacCommand uint8

const (
	MacAssociationRequest  MacCommand = 1
	MacAssociationResponse MacCommand = 2
	MacDataRequest         MacCommand = 4
	MacBeaconRequest       MacCommand = 7
)

// CapabilityInfo is the association request's capability byte.
type CapabilityInfo uint8

const (
	CapAlternatePANCoordinator CapabilityInfo = 1
	CapFullFunctionDevice      CapabilityInfo = 1 << 1
	CapMainsPowered            CapabilityInfo = 1 << 2
	CapReceiverOnWhenIdle      CapabilityInfo = 1 << 3
	CapSecurityCapable         CapabilityInfo = 1 << 6
	CapAllocateAddress         CapabilityInfo = 1 << 7
)

// AssociationStatus is the association response's result code.
type AssociationStatus uint8

const (
	AssociationSuccess         AssociationStatus = 0x00
	AssociationPANFull         AssociationStatus = 0x01
	AssociationPANAccessDenied AssociationStatus = 0x02
)

var ErrShortAssociationFrame = errors.New("radio: association command too short")

// ParseAssociationRequest parses the single capability byte following
// the MacAssociationRequest command id.
func ParseAssociationRequest(payload []byte) (CapabilityInfo, error) {
	if len(payload) < 1 {
		return 0, ErrShortAssociationFrame
	}
	return CapabilityInfo(payload[0]), nil
}

// AssociationResponsePayload builds an ASSOCIATION_RESPONSE command
// payload assigning shortAddress (0xffff if status is not
// AssociationSuccess).
func AssociationResponsePayload(shortAddress uint16, status AssociationStatus) []byte {
	buf := make([]byte, 3)
	binary.LittleEndian.PutUint16(buf[0:2], shortAddress)
	buf[2] = byte(status)
	return buf
}

// pendingResponse is one association response a joining device has not
// yet polled for with a data request.
type pendingResponse struct {
	extendedAddress uint64
	payload         []byte
}

// Associator runs the coordinator side of the 802.15.4 association
// sequence: a joining end device sends an ASSOCIATION_REQUEST with
// AckRequest set (the driver ACKs it at the MAC layer before this code
// ever sees it), the coordinator queues a response, and the device
// polls for it with a DATA_REQUEST, since an end device normally
// sleeps and cannot simply be pushed to from the coordinator between
// its own transmissions.
type Associator struct {
	nextShort uint16
	pending   []pendingResponse
	assigned  map[uint64]uint16
}

// NewAssociator creates an Associator handing out short addresses
// starting at firstShort (typically 1 — 0x0000 is the coordinator's own
// address and 0xffff/0xfffe are reserved broadcast/unknown values).
func NewAssociator(firstShort uint16) *Associator {
	return &Associator{
		nextShort: firstShort,
		assigned:  map[uint64]uint16{},
	}
}

// HandleAssociationRequest processes an association request from a
// device identified by its MAC header's extended source address,
// assigning it a short address (reusing one already assigned, if the
// device previously joined) and queuing the response for pickup.
func (a *Associator) HandleAssociationRequest(extendedAddress uint64, cap CapabilityInfo) {
	short, ok := a.assigned[extendedAddress]
	if !ok {
		short = a.nextShort
		a.nextShort++
		a.assigned[extendedAddress] = short
	}
	a.pending = append(a.pending, pendingResponse{
		extendedAddress: extendedAddress,
		payload:         AssociationResponsePayload(short, AssociationSuccess),
	})
}

// HandleDataRequest reports the association response queued for
// extendedAddress, if any, removing it from the queue (a data request
// is a one-shot poll; HasPending, checked before this call, tells
// whether the ACK to the data request carries the frame-pending bit).
func (a *Associator) HandleDataRequest(extendedAddress uint64) ([]byte, bool) {
	for i, p := range a.pending {
		if p.extendedAddress == extendedAddress {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return p.payload, true
		}
	}
	return nil, false
}

// HasPending reports whether extendedAddress has an association
// response waiting — used to set the MAC beacon/ack frame-pending bit
// so a polling device knows to send a data request.
func (a *Associator) HasPending(extendedAddress uint64) bool {
	for _, p := range a.pending {
		if p.extendedAddress == extendedAddress {
			return true
		}
	}
	return false
}

// ShortAddress returns the short address previously assigned to
// extendedAddress, if it has associated.
func (a *Associator) ShortAddress(extendedAddress uint64) (uint16, bool) {
	short, ok := a.assigned[extendedAddress]
	return short, ok
}
