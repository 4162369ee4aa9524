package mqttsn

import (
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"

	"roomlink.dev/pubsub"
	"roomlink.dev/task"
)

// State is where a Client sits in the connection lifecycle. §4.7 names
// the same four states for both ends of the bridge; a Client only ever
// occupies the subset a connecting device passes through.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	KeepAlive
)

// Conn is the UDP half of the bridge: Send transmits one datagram to
// the configured gateway, Recv blocks for the next one addressed back.
// A real implementation wraps net.UDPConn; tests supply an in-memory
// pair.
type Conn interface {
	Send(b []byte) error
	Recv() ([]byte, error)
}

var (
	ErrRejected = errors.New("mqttsn: request rejected by gateway")
	ErrTimeout  = errors.New("mqttsn: no reply from gateway")
	ErrClosed   = errors.New("mqttsn: connection closed")
)

type subscription struct {
	plugIndex uint16
	category  pubsub.Category
}

type replyWait struct {
	want  MessageType
	frame Frame
}

// Client bridges one device's local plug traffic to a single MQTT-SN
// gateway connection: registered outgoing topics carry plug
// publications out, subscribed incoming topics carry gateway
// publications in, and the reply waitlist lets every request/response
// exchange (CONNECT/CONNACK, REGISTER/REGACK, SUBSCRIBE/SUBACK,
// PINGREQ/PINGRESP) block the caller the way the original coroutine
// client's co_await did, without blocking the dispatch loop reading
// other gateway traffic meanwhile.
type Client struct {
	loop   *task.Loop
	conn   Conn
	broker *pubsub.Broker

	clientID string
	state    State
	msgID    uint16

	replies       task.Barrier[*replyWait]
	publishTopics map[string]uint16
	subscriptions map[uint16]subscription
}

// NewClient creates a Client over conn, bridging to broker. Call Run in
// its own goroutine to start the dispatch loop before issuing Connect.
func NewClient(loop *task.Loop, conn Conn, broker *pubsub.Broker, clientID string) *Client {
	return &Client{
		loop:          loop,
		conn:          conn,
		broker:        broker,
		clientID:      clientID,
		replies:       task.NewBarrier[*replyWait](loop),
		publishTopics: map[string]uint16{},
		subscriptions: map[uint16]subscription{},
	}
}

// State reports the Client's current connection state.
func (c *Client) State() State {
	c.loop.Lock()
	defer c.loop.Unlock()
	return c.state
}

// IsGatewayConnected reports whether CONNECT has completed and the
// connection has not since been dropped.
func (c *Client) IsGatewayConnected() bool {
	s := c.State()
	return s == Connected || s == KeepAlive
}

// Run reads datagrams from conn until it errors or cancel fires,
// routing each to whichever request is awaiting its reply type, or —
// for an incoming PUBLISH — to the plug it was bound to by
// BindSubscriber. It is meant to run for the lifetime of the Client in
// its own goroutine.
func (c *Client) Run(cancel <-chan struct{}) error {
	for {
		select {
		case <-cancel:
			return nil
		default:
		}
		buf, err := c.conn.Recv()
		if err != nil {
			c.loop.Lock()
			c.state = Disconnected
			c.loop.Unlock()
			return err
		}
		frame, err := Decode(buf)
		if err != nil {
			continue // malformed datagram: drop and keep reading
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Type {
	case ConnAck, RegAck, SubAck, PubAck, PingResp:
		c.loop.Lock()
		c.replies.ResumeFirstIf(func(r *replyWait) bool {
			if r.want != frame.Type {
				return false
			}
			r.frame = frame
			return true
		})
		c.loop.Unlock()
	case Publish:
		c.handlePublish(frame)
	case Disconnect:
		c.loop.Lock()
		c.state = Disconnected
		c.loop.Unlock()
	}
}

func (c *Client) handlePublish(frame Frame) {
	p, err := ParsePublish(frame.Payload)
	if err != nil {
		return
	}
	c.loop.Lock()
	sub, ok := c.subscriptions[p.TopicID]
	c.loop.Unlock()
	if !ok {
		return
	}

	var v pubsub.Value
	if err := cbor.Unmarshal(p.Data, &v); err != nil {
		return
	}

	c.loop.Lock()
	c.broker.Publish(sub.plugIndex, sub.category, v)
	c.loop.Unlock()

	if GetQos(p.Flags) == 1 {
		ack, err := Encode(Frame{Type: PubAck, Payload: PubAckPayload(p.TopicID, p.MsgID, Accepted)})
		if err == nil {
			c.conn.Send(ack)
		}
	}
}

// request sends payload and blocks until a reply of type want arrives,
// timeout elapses, or cancel fires.
func (c *Client) request(payload []byte, want MessageType, timeout time.Duration, cancel <-chan struct{}) (Frame, error) {
	if err := c.conn.Send(payload); err != nil {
		return Frame{}, err
	}

	timedCancel := make(chan struct{})
	timer := time.AfterFunc(timeout, func() { close(timedCancel) })
	defer timer.Stop()
	merged := make(chan struct{})
	go func() {
		select {
		case <-timedCancel:
		case <-cancel:
		}
		close(merged)
	}()

	c.loop.Lock()
	r, ok := c.replies.Wait(&replyWait{want: want}, merged)
	c.loop.Unlock()
	if !ok {
		select {
		case <-cancel:
			return Frame{}, ErrClosed
		default:
			return Frame{}, ErrTimeout
		}
	}
	return r.frame, nil
}

func (c *Client) nextMsgID() uint16 {
	c.loop.Lock()
	defer c.loop.Unlock()
	c.msgID++
	return c.msgID
}

// Connect performs the CONNECT/CONNACK handshake, advertising
// keepAliveSeconds as the interval KeepAlive will ping at.
func (c *Client) Connect(keepAliveSeconds uint16, timeout time.Duration, cancel <-chan struct{}) error {
	c.loop.Lock()
	c.state = Connecting
	c.loop.Unlock()

	frame, err := Encode(Frame{Type: Connect, Payload: ConnectPayload(CleanSession, keepAliveSeconds, c.clientID)})
	if err != nil {
		return err
	}
	reply, err := c.request(frame, ConnAck, timeout, cancel)
	if err != nil {
		c.loop.Lock()
		c.state = Disconnected
		c.loop.Unlock()
		return err
	}
	code, err := ParseConnAck(reply.Payload)
	if err != nil {
		return err
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	if code != Accepted {
		c.state = Disconnected
		return ErrRejected
	}
	c.state = Connected
	return nil
}

// KeepAlive pings the gateway every interval until a ping goes
// unanswered, at which point the connection is considered lost, the
// state reverts to Disconnected and the error is returned. If cancel
// fires first it returns nil and leaves the state as it is. It is meant to
// be called in a loop alongside Connect, mirroring the reconnect loop
// the bridge runs for the lifetime of the device.
func (c *Client) KeepAlive(interval, replyTimeout time.Duration, cancel <-chan struct{}) error {
	for {
		select {
		case <-time.After(interval):
		case <-cancel:
			return nil
		}

		c.loop.Lock()
		c.state = KeepAlive
		c.loop.Unlock()

		frame, err := Encode(Frame{Type: PingReq, Payload: PingReqPayload()})
		if err != nil {
			return err
		}
		if _, err := c.request(frame, PingResp, replyTimeout, cancel); err != nil {
			select {
			case <-cancel:
				return nil
			default:
			}
			c.loop.Lock()
			c.state = Disconnected
			c.loop.Unlock()
			return err
		}

		c.loop.Lock()
		c.state = Connected
		c.loop.Unlock()
	}
}

// RegisterPublishTopic registers topicName for outgoing PUBLISH
// messages and returns the topic id the gateway assigned.
func (c *Client) RegisterPublishTopic(topicName string, timeout time.Duration, cancel <-chan struct{}) (uint16, error) {
	msgID := c.nextMsgID()
	frame, err := Encode(Frame{Type: Register, Payload: RegisterPayload(0, msgID, topicName)})
	if err != nil {
		return 0, err
	}
	reply, err := c.request(frame, RegAck, timeout, cancel)
	if err != nil {
		return 0, err
	}
	topicID, _, code, err := RegAckPayload(reply.Payload)
	if err != nil {
		return 0, err
	}
	if code != Accepted {
		return 0, ErrRejected
	}
	c.loop.Lock()
	c.publishTopics[topicName] = topicID
	c.loop.Unlock()
	return topicID, nil
}

// SubscribeTopic subscribes to topicName for incoming PUBLISH messages
// and returns the topic id the gateway assigned.
func (c *Client) SubscribeTopic(topicName string, timeout time.Duration, cancel <-chan struct{}) (uint16, error) {
	msgID := c.nextMsgID()
	frame, err := Encode(Frame{Type: Subscribe, Payload: SubscribePayload(Qos0, msgID, topicName)})
	if err != nil {
		return 0, err
	}
	reply, err := c.request(frame, SubAck, timeout, cancel)
	if err != nil {
		return 0, err
	}
	_, topicID, _, code, err := ParseSubAck(reply.Payload)
	if err != nil {
		return 0, err
	}
	if code != Accepted {
		return 0, ErrRejected
	}
	return topicID, nil
}

// PublishValue sends v as one PUBLISH message on topicID at QoS 0.
func (c *Client) PublishValue(topicID uint16, v pubsub.Value) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	msgID := c.nextMsgID()
	frame, err := Encode(Frame{Type: Publish, Payload: PublishPayload(Qos0, topicID, msgID, data)})
	if err != nil {
		return err
	}
	return c.conn.Send(frame)
}

// BindPublisher registers topicName, then runs a forwarding loop (until
// cancel fires) that subscribes to plugIndex on the local broker and
// re-publishes every value it receives as an outgoing PUBLISH.
// BindPublisher blocks on registration but returns before the
// forwarding loop starts; call it from its own goroutine, or call
// RegisterPublishTopic and run the loop yourself for finer control.
func (c *Client) BindPublisher(topicName string, plugIndex uint16, category pubsub.Category, timeout time.Duration, cancel <-chan struct{}) error {
	topicID, err := c.RegisterPublishTopic(topicName, timeout, cancel)
	if err != nil {
		return err
	}
	go func() {
		for {
			c.loop.Lock()
			v, ok := c.broker.Subscribe(plugIndex, pubsub.Source{PlugIndex: uint8(plugIndex)}, category, pubsub.DefaultConvertOptions, cancel)
			c.loop.Unlock()
			if !ok {
				return
			}
			c.PublishValue(topicID, v)
		}
	}()
	return nil
}

// BindSubscriber subscribes to topicName and arranges for every
// incoming PUBLISH on it to be delivered to plugIndex on the local
// broker, converted to category.
func (c *Client) BindSubscriber(topicName string, plugIndex uint16, category pubsub.Category, timeout time.Duration, cancel <-chan struct{}) error {
	topicID, err := c.SubscribeTopic(topicName, timeout, cancel)
	if err != nil {
		return err
	}
	c.loop.Lock()
	c.subscriptions[topicID] = subscription{plugIndex: plugIndex, category: category}
	c.loop.Unlock()
	return nil
}
