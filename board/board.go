package board

import (
	"time"

	"roomlink.dev/bus"
	"roomlink.dev/ccm"
	"roomlink.dev/feram"
	"roomlink.dev/flash"
	"roomlink.dev/mqttsn"
	"roomlink.dev/pubsub"
	"roomlink.dev/radio"
	"roomlink.dev/state"
	"roomlink.dev/task"
)

// feram element indices this board reserves for its own bookkeeping,
// ahead of whatever application-level scene/calendar state the board's
// caller allocates starting at reservedFeramElements.
const (
	feramBusAddressCounter = iota
	feramRadioPanID
	reservedFeramElements
)

// Config is everything a Board needs to start: the bus transport, a
// PHY for the radio coordinator (nil if this board has no radio), and
// the provisioning lists for both link layers.
type Config struct {
	BusTransport bus.Transport
	BusDevices   []*bus.Device

	RadioPHY        radio.PHY
	RadioPANID      uint16
	RadioNetworkKey [16]byte

	FlashRegionSize int
	FlashRegionA    []byte
	FlashRegionB    []byte
	FeramBackend    feram.Backend
	FeramElements   int
}

// Board is one running coordinator: the wired bus master, the radio
// coordinator, the local publish/subscribe broker every endpoint feeds
// into, and the two storage layers backing commissioning and counter
// state across restarts.
type Board struct {
	Loop   *task.Loop
	Broker *pubsub.Broker

	Bus   *bus.Master
	Radio *radio.Coordinator

	Flash *flash.Store
	Feram *feram.Store

	BusAddressCounter state.Counter
}

// Open constructs a Board from cfg: it loads (or initializes) the
// flash array store from its two regions, opens the FeRAM counter
// store, and wires a bus.Master and — if cfg.RadioPHY is set — a
// radio.Coordinator over the given network key.
func Open(loop *task.Loop, cfg Config) (*Board, error) {
	fs, err := flash.Load(cfg.FlashRegionA, cfg.FlashRegionB)
	if err != nil {
		fs = flash.NewStore(cfg.FlashRegionSize)
	}

	elementCount := cfg.FeramElements
	if elementCount < reservedFeramElements {
		elementCount = reservedFeramElements
	}
	fr := feram.NewStore(cfg.FeramBackend, elementCount)

	broker := pubsub.NewBroker(loop)
	master := bus.NewMaster(loop, cfg.BusTransport, cfg.BusDevices)

	b := &Board{
		Loop:              loop,
		Broker:            broker,
		Bus:               master,
		Flash:             fs,
		Feram:             fr,
		BusAddressCounter: state.NewCounter(fr, feramBusAddressCounter),
	}

	if cfg.RadioPHY != nil {
		ks := ccm.ExpandKey(cfg.RadioNetworkKey)
		b.Radio = radio.NewCoordinator(cfg.RadioPANID, ks)
	}
	return b, nil
}

// BindMqttsn attaches an mqttsn.Client to this board's broker, calling
// BindPublisher/BindSubscriber for each of the plug bindings the caller
// supplies. It does not itself start c.Run — that is the caller's
// responsibility, since its lifetime is tied to the UDP conn, not the
// Board.
type PublishBinding struct {
	Topic     string
	PlugIndex uint16
	Category  pubsub.Category
}

type SubscribeBinding struct {
	Topic     string
	PlugIndex uint16
	Category  pubsub.Category
}

func (b *Board) BindMqttsn(c *mqttsn.Client, publishes []PublishBinding, subscribes []SubscribeBinding, timeout time.Duration, cancel <-chan struct{}) error {
	for _, p := range publishes {
		if err := c.BindPublisher(p.Topic, p.PlugIndex, p.Category, timeout, cancel); err != nil {
			return err
		}
	}
	for _, s := range subscribes {
		if err := c.BindSubscriber(s.Topic, s.PlugIndex, s.Category, timeout, cancel); err != nil {
			return err
		}
	}
	return nil
}
