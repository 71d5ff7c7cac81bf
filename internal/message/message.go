// Package message defines the frames exchanged between hub and clients and
// the envelope relayed between hub instances.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
)

// RecordSeparator terminates every JSON frame on the wire.
const RecordSeparator = 0x1e

// Frame types.
const (
	TypeInvocation = 1
	TypePing       = 6
	TypeClose      = 7
)

// Inbound targets (client → server).
const (
	TargetSendMessage            = "SendMessage"
	TargetTypingNotification     = "TypingNotification"
	TargetStopTypingNotification = "StopTypingNotification"
)

// Outbound targets (server → client).
const (
	TargetReceiveMessage = "ReceiveMessage"
	TargetUserTyping     = "UserTyping"
	TargetUserStopTyping = "UserStopTyping"
	TargetError          = "Error"
)

var ErrEmptyFrame = errors.New("message: empty frame")

// Frame is a single JSON record. A handshake frame carries Protocol and
// Version and no Type.
type Frame struct {
	Type      int      `json:"type,omitempty"`
	Target    string   `json:"target,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Protocol  string   `json:"protocol,omitempty"`
	Version   int      `json:"version,omitempty"`
}

func (f Frame) IsHandshake() bool {
	return f.Type == 0 && f.Protocol != ""
}

// Invocation builds an invocation frame for target.
func Invocation(target string, args ...string) Frame {
	return Frame{Type: TypeInvocation, Target: target, Arguments: args}
}

// Encode marshals f and appends the record separator.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, RecordSeparator), nil
}

// HandshakeResponse is the empty-object acknowledgement of a handshake.
func HandshakeResponse() []byte {
	return []byte{'{', '}', RecordSeparator}
}

// Decode splits a websocket payload into frames. A payload without any
// separator is treated as one frame.
func Decode(payload []byte) ([]Frame, error) {
	var frames []Frame
	for _, record := range bytes.Split(payload, []byte{RecordSeparator}) {
		record = bytes.TrimSpace(record)
		if len(record) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(record, &f); err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, ErrEmptyFrame
	}
	return frames, nil
}

// Envelope carries an encoded frame between hub instances.
type Envelope struct {
	Origin string `json:"origin"`
	Except string `json:"except,omitempty"`
	Frame  []byte `json:"frame"`
}
