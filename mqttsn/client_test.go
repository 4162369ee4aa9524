package mqttsn

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"roomlink.dev/pubsub"
	"roomlink.dev/task"
)

// pipeConn is an in-memory Conn: Send on one end becomes Recv on the
// other, standing in for a UDP socket talking to a gateway under test.
type pipeConn struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (a, b *pipeConn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &pipeConn{out: ab, in: ba}, &pipeConn{out: ba, in: ab}
}

func (p *pipeConn) Send(b []byte) error {
	p.out <- append([]byte(nil), b...)
	return nil
}

func (p *pipeConn) Recv() ([]byte, error) {
	return <-p.in, nil
}

// fakeGateway answers CONNECT/REGISTER/SUBSCRIBE/PINGREQ with a fixed
// accept code, for exercising the client side of the handshake without
// a real broker.
func fakeGateway(t *testing.T, conn *pipeConn, done <-chan struct{}) {
	for {
		var buf []byte
		select {
		case buf = <-conn.in:
		case <-done:
			return
		}
		frame, err := Decode(buf)
		if err != nil {
			continue
		}
		switch frame.Type {
		case Connect:
			reply, _ := Encode(Frame{Type: ConnAck, Payload: ConnAckPayload(Accepted)})
			conn.Send(reply)
		case Register:
			// A REGACK body (topic id, msg id, return code) has the
			// same layout as a PUBACK body.
			reply, _ := Encode(Frame{Type: RegAck, Payload: PubAckPayload(42, 1, Accepted)})
			conn.Send(reply)
		case Subscribe:
			reply, _ := Encode(Frame{Type: SubAck, Payload: SubAckPayload(Qos0, 7, 1, Accepted)})
			conn.Send(reply)
		case PingReq:
			reply, _ := Encode(Frame{Type: PingResp})
			conn.Send(reply)
		case Publish:
			p, err := ParsePublish(frame.Payload)
			if err != nil {
				continue
			}
			if GetQos(p.Flags) == 1 {
				reply, _ := Encode(Frame{Type: PubAck, Payload: PubAckPayload(p.TopicID, p.MsgID, Accepted)})
				conn.Send(reply)
			}
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	loop := task.NewLoop()
	broker := pubsub.NewBroker(loop)
	clientConn, gatewayConn := newPipePair()
	c := NewClient(loop, clientConn, broker, "test-client")

	done := make(chan struct{})
	defer close(done)
	go fakeGateway(t, gatewayConn, done)
	go c.Run(done)

	if err := c.Connect(30, time.Second, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.IsGatewayConnected() {
		t.Fatal("expected connected state")
	}
}

func TestRegisterPublishTopic(t *testing.T) {
	loop := task.NewLoop()
	broker := pubsub.NewBroker(loop)
	clientConn, gatewayConn := newPipePair()
	c := NewClient(loop, clientConn, broker, "test-client")

	done := make(chan struct{})
	defer close(done)
	go fakeGateway(t, gatewayConn, done)
	go c.Run(done)

	if err := c.Connect(30, time.Second, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	topicID, err := c.RegisterPublishTopic("room/switch", time.Second, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if topicID != 42 {
		t.Fatalf("got topic id %d, want 42", topicID)
	}
}

func TestKeepAliveSurvivesPing(t *testing.T) {
	loop := task.NewLoop()
	broker := pubsub.NewBroker(loop)
	clientConn, gatewayConn := newPipePair()
	c := NewClient(loop, clientConn, broker, "test-client")

	done := make(chan struct{})
	defer close(done)
	go fakeGateway(t, gatewayConn, done)
	go c.Run(done)

	if err := c.Connect(30, time.Second, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	cancel := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.KeepAlive(10*time.Millisecond, time.Second, cancel) }()

	time.Sleep(50 * time.Millisecond)
	close(cancel)
	if err := <-errCh; err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	if c.State() == Disconnected {
		t.Fatal("keepalive should not have disconnected while pings were answered")
	}
}

func TestIncomingPublishDeliversToPlug(t *testing.T) {
	loop := task.NewLoop()
	broker := pubsub.NewBroker(loop)
	clientConn, gatewayConn := newPipePair()
	c := NewClient(loop, clientConn, broker, "test-client")

	done := make(chan struct{})
	defer close(done)
	go c.Run(done)

	// Manually register a subscription binding, bypassing the
	// SUBSCRIBE/SUBACK exchange, to isolate dispatch-loop behavior.
	loop.Lock()
	c.subscriptions[7] = subscription{plugIndex: 3, category: pubsub.CategoryBinary}
	loop.Unlock()

	subscribed := make(chan struct{})
	result := make(chan pubsub.Value, 1)
	go func() {
		loop.Lock()
		close(subscribed)
		v, ok := broker.Subscribe(3, pubsub.Source{}, pubsub.CategoryBinary, pubsub.DefaultConvertOptions, nil)
		loop.Unlock()
		if !ok {
			t.Errorf("subscribe failed")
			return
		}
		result <- v
	}()
	<-subscribed
	time.Sleep(10 * time.Millisecond)

	data, err := cbor.Marshal(pubsub.Value{Category: pubsub.CategoryBinary, Int: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame, _ := Encode(Frame{Type: Publish, Payload: PublishPayload(Qos0, 7, 1, data)})
	gatewayConn.Send(frame)

	select {
	case v := <-result:
		if v.Int != 1 {
			t.Fatalf("got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("plug subscriber was never resumed")
	}
}
