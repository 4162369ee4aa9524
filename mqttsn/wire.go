// Package mqttsn implements an MQTT-SN 1.2 client over UDP, bridging
// remote topics to the local publish/subscribe plane: an incoming
// PUBLISH is delivered to a plug, and a plug publication is forwarded
// as an outgoing PUBLISH on its registered topic.
package mqttsn

import (
	"encoding/binary"
	"errors"
)

// MessageType is the MQTT-SN message type field, one byte into every
// frame.
type MessageType uint8

const (
	Advertise     MessageType = 0x00
	SearchGW      MessageType = 0x01
	GWInfo        MessageType = 0x02
	Connect       MessageType = 0x04
	ConnAck       MessageType = 0x05
	WillTopicReq  MessageType = 0x06
	WillTopic     MessageType = 0x07
	WillMsgReq    MessageType = 0x08
	WillMsg       MessageType = 0x09
	Register      MessageType = 0x0a
	RegAck        MessageType = 0x0b
	Publish       MessageType = 0x0c
	PubAck        MessageType = 0x0d
	PubComp       MessageType = 0x0e
	PubRec        MessageType = 0x0f
	PubRel        MessageType = 0x10
	Subscribe     MessageType = 0x12
	SubAck        MessageType = 0x13
	Unsubscribe   MessageType = 0x14
	UnsubAck      MessageType = 0x15
	PingReq       MessageType = 0x16
	PingResp      MessageType = 0x17
	Disconnect    MessageType = 0x18
	WillTopicUpd  MessageType = 0x1a
	WillTopicResp MessageType = 0x1b
	WillMsgUpd    MessageType = 0x1c
	WillMsgResp   MessageType = 0x1d
	Encapsulated  MessageType = 0xfe
)

// Flags is the one-byte flags field carried by CONNECT, (UN)SUBSCRIBE,
// PUBLISH, SUBACK and WILLTOPIC*.
type Flags uint8

const (
	TopicTypeMask      Flags = 0x03
	TopicTypeNormal    Flags = 0x00
	TopicTypePredefined Flags = 0x01
	TopicTypeShort     Flags = 0x02

	CleanSession Flags = 0x04
	Will         Flags = 0x08
	Retain       Flags = 0x10

	QosMask    Flags = 0x60
	Qos0       Flags = 0x00
	Qos1       Flags = 0x20
	Qos2       Flags = 0x40
	QosMinus1  Flags = 0x60

	Dup Flags = 0x80
)

// GetQos extracts the signed QoS level (-1, 0, 1 or 2) from flags.
func GetQos(flags Flags) int8 {
	qos := int(flags>>5) & 3
	return int8(((qos + 1) & 3) - 1)
}

// MakeQos packs a signed QoS level (-1, 0, 1 or 2) into a Flags value.
func MakeQos(qos int8) Flags {
	return Flags((qos & 3) << 5)
}

// ReturnCode is carried in CONNACK, REGACK, SUBACK and PUBACK to report
// whether a request succeeded.
type ReturnCode uint8

const (
	Accepted                ReturnCode = 0
	RejectedCongested        ReturnCode = 1
	RejectedInvalidTopicID ReturnCode = 2
	NotSupported            ReturnCode = 3
)

var ErrFrameTooShort = errors.New("mqttsn: frame too short")
var ErrFrameTooLong = errors.New("mqttsn: frame too long for one-byte length")

// Frame is a decoded MQTT-SN message: its type and the bytes following
// the type byte.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Encode serializes f using the short (one-byte length) frame format;
// MQTT-SN's optional 3-byte extended length is not needed since no
// message this bridge sends or receives exceeds 255 bytes.
func Encode(f Frame) ([]byte, error) {
	total := 2 + len(f.Payload)
	if total > 0xff {
		return nil, ErrFrameTooLong
	}
	buf := make([]byte, total)
	buf[0] = byte(total)
	buf[1] = byte(f.Type)
	copy(buf[2:], f.Payload)
	return buf, nil
}

// Decode parses one MQTT-SN frame from buf, which must hold exactly
// one datagram's worth of bytes (as UDP delivers messages already
// framed, the length field is used only to validate the bytes are
// self-consistent, not to locate the next message).
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, ErrFrameTooShort
	}
	length := int(buf[0])
	if length == 1 {
		return Frame{}, errors.New("mqttsn: extended length frames unsupported")
	}
	if length > len(buf) {
		return Frame{}, ErrFrameTooShort
	}
	return Frame{Type: MessageType(buf[1]), Payload: append([]byte(nil), buf[2:length]...)}, nil
}

// ConnectPayload builds a CONNECT message body: flags, protocol id
// (always 1 for MQTT-SN), a keep-alive duration in seconds, and the
// client id.
func ConnectPayload(flags Flags, keepAliveSeconds uint16, clientID string) []byte {
	buf := make([]byte, 4+len(clientID))
	buf[0] = byte(flags)
	buf[1] = 1 // protocol id
	binary.BigEndian.PutUint16(buf[2:4], keepAliveSeconds)
	copy(buf[4:], clientID)
	return buf
}

// RegisterPayload builds a REGISTER message body for a client
// originating a new topic name (topicID is 0 until the gateway assigns
// one via REGACK).
func RegisterPayload(topicID uint16, msgID uint16, topicName string) []byte {
	buf := make([]byte, 4+len(topicName))
	binary.BigEndian.PutUint16(buf[0:2], topicID)
	binary.BigEndian.PutUint16(buf[2:4], msgID)
	copy(buf[4:], topicName)
	return buf
}

// RegAckPayload parses a REGACK body into its topic id, message id and
// return code.
func RegAckPayload(body []byte) (topicID, msgID uint16, code ReturnCode, err error) {
	if len(body) != 5 {
		return 0, 0, 0, ErrFrameTooShort
	}
	return binary.BigEndian.Uint16(body[0:2]), binary.BigEndian.Uint16(body[2:4]), ReturnCode(body[4]), nil
}

// PublishPayload builds a PUBLISH message body carrying data under
// topicID.
func PublishPayload(flags Flags, topicID, msgID uint16, data []byte) []byte {
	buf := make([]byte, 5+len(data))
	buf[0] = byte(flags)
	binary.BigEndian.PutUint16(buf[1:3], topicID)
	binary.BigEndian.PutUint16(buf[3:5], msgID)
	copy(buf[5:], data)
	return buf
}

// ParsedPublish is a decoded PUBLISH message body.
type ParsedPublish struct {
	Flags   Flags
	TopicID uint16
	MsgID   uint16
	Data    []byte
}

func ParsePublish(body []byte) (ParsedPublish, error) {
	if len(body) < 5 {
		return ParsedPublish{}, ErrFrameTooShort
	}
	return ParsedPublish{
		Flags:   Flags(body[0]),
		TopicID: binary.BigEndian.Uint16(body[1:3]),
		MsgID:   binary.BigEndian.Uint16(body[3:5]),
		Data:    append([]byte(nil), body[5:]...),
	}, nil
}

// PubAckPayload builds a PUBACK message body.
func PubAckPayload(topicID, msgID uint16, code ReturnCode) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint16(buf[0:2], topicID)
	binary.BigEndian.PutUint16(buf[2:4], msgID)
	buf[4] = byte(code)
	return buf
}

func ParsePubAck(body []byte) (topicID, msgID uint16, code ReturnCode, err error) {
	if len(body) != 5 {
		return 0, 0, 0, ErrFrameTooShort
	}
	return binary.BigEndian.Uint16(body[0:2]), binary.BigEndian.Uint16(body[2:4]), ReturnCode(body[4]), nil
}

// ConnAckPayload/ParseConnAck handle CONNACK's single return-code byte.
func ConnAckPayload(code ReturnCode) []byte { return []byte{byte(code)} }

func ParseConnAck(body []byte) (ReturnCode, error) {
	if len(body) != 1 {
		return 0, ErrFrameTooShort
	}
	return ReturnCode(body[0]), nil
}

// SubscribePayload builds a SUBSCRIBE message body for a normal (named)
// topic.
func SubscribePayload(flags Flags, msgID uint16, topicName string) []byte {
	buf := make([]byte, 3+len(topicName))
	buf[0] = byte(flags&^TopicTypeMask) | byte(TopicTypeNormal)
	binary.BigEndian.PutUint16(buf[1:3], msgID)
	copy(buf[3:], topicName)
	return buf
}

// SubAckPayload builds a SUBACK message body.
func SubAckPayload(flags Flags, topicID, msgID uint16, code ReturnCode) []byte {
	buf := make([]byte, 6)
	buf[0] = byte(flags)
	binary.BigEndian.PutUint16(buf[1:3], topicID)
	binary.BigEndian.PutUint16(buf[3:5], msgID)
	buf[5] = byte(code)
	return buf
}

func ParseSubAck(body []byte) (flags Flags, topicID, msgID uint16, code ReturnCode, err error) {
	if len(body) != 6 {
		return 0, 0, 0, 0, ErrFrameTooShort
	}
	return Flags(body[0]), binary.BigEndian.Uint16(body[1:3]), binary.BigEndian.Uint16(body[3:5]), ReturnCode(body[5]), nil
}

// PingReqPayload returns an empty PINGREQ body: the optional client id
// is left out for this bridge's use (only the gateway-initiated PINGREQ carries one, to
// probe a sleeping client, which this bridge never is).
func PingReqPayload() []byte { return nil }
