// Package wire provides transfer framing between coordinator and clients
// and measures the serialized size of what crosses that boundary.
package wire

import (
	"encoding/gob"
	"fmt"
	"io"

	"fedq/quantize"
)

func init() {
	// Register types for gob encoding
	gob.Register(BroadcastPayload{})
	gob.Register(UpdatePayload{})
}

// MessageType defines message types for the round protocol
type MessageType int

const (
	MsgBroadcast MessageType = iota
	MsgClientUpdate
	MsgDone
	MsgError
)

// Message represents a message in the round protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// BroadcastPayload carries the coordinator model to every client.
type BroadcastPayload struct {
	Round int
	Model *quantize.Payload
}

// UpdatePayload carries one client's locally trained model back.
type UpdatePayload struct {
	Round  int
	Client int
	Model  *quantize.Payload
}

// Protocol handles round protocol communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	return &Protocol{
		encoder: gob.NewEncoder(w),
		decoder: gob.NewDecoder(r),
	}
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendBroadcast sends the coordinator model for a round
func (p *Protocol) SendBroadcast(round int, pl *quantize.Payload) error {
	return p.Send(&Message{
		Type:    MsgBroadcast,
		Payload: BroadcastPayload{Round: round, Model: pl},
	})
}

// SendUpdate sends a client's trained model for a round
func (p *Protocol) SendUpdate(round, client int, pl *quantize.Payload) error {
	return p.Send(&Message{
		Type:    MsgClientUpdate,
		Payload: UpdatePayload{Round: round, Client: client, Model: pl},
	})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// ReceiveBroadcast receives a broadcast payload
func (p *Protocol) ReceiveBroadcast() (*BroadcastPayload, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgError {
		return nil, fmt.Errorf("remote error: %v", msg.Payload)
	}
	if msg.Type == MsgDone {
		return nil, io.EOF
	}
	if msg.Type != MsgBroadcast {
		return nil, fmt.Errorf("expected broadcast message, got %d", msg.Type)
	}
	payload, ok := msg.Payload.(BroadcastPayload)
	if !ok {
		return nil, fmt.Errorf("invalid broadcast payload type")
	}
	return &payload, nil
}

// ReceiveUpdate receives a client update payload
func (p *Protocol) ReceiveUpdate() (*UpdatePayload, error) {
	msg, err := p.Receive()
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgError {
		return nil, fmt.Errorf("remote error: %v", msg.Payload)
	}
	if msg.Type == MsgDone {
		return nil, io.EOF
	}
	if msg.Type != MsgClientUpdate {
		return nil, fmt.Errorf("expected update message, got %d", msg.Type)
	}
	payload, ok := msg.Payload.(UpdatePayload)
	if !ok {
		return nil, fmt.Errorf("invalid update payload type")
	}
	return &payload, nil
}
