package bus

import (
	"roomlink.dev/ccm"
)

// NodeState is a device's progress through commissioning.
type NodeState int

const (
	StateUncommissioned NodeState = iota
	StateCommissioned
)

// Node is the device-side half of the bus protocol: it answers
// enumerate requests while uncommissioned, accepts a single
// commissioning frame naming it by device id, and thereafter decrypts
// writes and reports pending endpoint state under its own key and
// security counter.
type Node struct {
	ID        uint32
	Endpoints []EndpointType
	States    []int

	state   NodeState
	address ShortAddress
	key     [16]byte

	txCounter uint32
	rxCounter uint32
	rxSeen    bool

	// pending is the set of endpoint indices with state changed since
	// the last successful read, mirroring the master's requestFlags
	// bitmap.
	pending map[int]struct{}
}

// NewNode creates an uncommissioned node for id with the given
// endpoint layout.
func NewNode(id uint32, endpoints []EndpointType) *Node {
	return &Node{ID: id, Endpoints: endpoints, States: make([]int, len(endpoints)), pending: map[int]struct{}{}}
}

// MarkDirty flags an input endpoint's state as changed, so the next
// read request will report it.
func (n *Node) MarkDirty(endpointIndex int) {
	n.pending[endpointIndex] = struct{}{}
}

// HandleFrame processes one frame read off the bus, returning a reply
// to write back (possibly empty) and whether the frame was addressed
// to this node at all (an unaddressed, unmatched frame produces no
// reply and the caller should not occupy the bus responding to it).
func (n *Node) HandleFrame(ks, defaultKS ccm.KeySchedule, frame []byte) (reply []byte, handled bool) {
	if len(frame) == 0 {
		return nil, false
	}

	if n.state == StateUncommissioned {
		if IsEnumerateRequest(frame) {
			return EncodeAdvertisement(defaultKS, n.ID, n.Endpoints), true
		}
		if deviceID, address, key, ok := DecodeCommission(defaultKS, frame); ok && deviceID == n.ID {
			n.state = StateCommissioned
			n.address = address
			n.key = key
			n.txCounter = 0
			n.rxCounter = 0
			n.rxSeen = false
			return nil, true
		}
		return nil, false
	}

	// Commissioned: a zero-length write (a poll) asks us to report
	// pending state; a non-empty write carries an encrypted command
	// for one of our endpoints; anything else must be addressed to a
	// different device and is ignored.
	address, counter, body, ok := DecodeWrite(frame)
	if !ok {
		return nil, false
	}
	if address != n.address {
		return nil, false
	}
	if len(body) == 0 {
		// A zero-length body is a poll, not a write: report whatever
		// endpoint state is pending, if any.
		return n.encodeNextPending(ks), true
	}
	if n.rxSeen && counter <= n.rxCounter {
		return nil, false
	}

	maxPlain := len(body) - DefaultMICLength
	if maxPlain < 1 {
		return nil, false
	}
	plain, ok := DecryptWritePayload(ks, address, counter, body, maxPlain)
	if !ok {
		return nil, false
	}
	n.rxCounter = counter
	n.rxSeen = true

	idx := int(plain[0])
	if idx >= 0 && idx < len(n.Endpoints) {
		ApplyWrite(n.Endpoints[idx], &n.States[idx], plain[1:])
	}
	return nil, true
}

func (n *Node) encodeNextPending(ks ccm.KeySchedule) []byte {
	for idx := range n.Endpoints {
		if _, dirty := n.pending[idx]; !dirty {
			continue
		}
		delete(n.pending, idx)
		payload := append([]byte{byte(idx)}, EncodeState(n.Endpoints[idx], n.States[idx])...)
		n.txCounter++
		return EncodeReadReply(ks, n.address, n.txCounter, payload)
	}
	return nil
}
