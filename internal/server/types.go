package server

import (
	"encoding/json"
	"errors"
	"strings"
)

// noticeLocation tags join and leave notices.
const noticeLocation = "chat"

var errMissingMessage = errors.New("frame has no string message field")

// ChatMessage is the chat-relay frame shape. Clients may send additional
// fields; frames are relayed verbatim and only Message is interpreted.
type ChatMessage struct {
	Message  string `json:"message"`
	Sender   string `json:"sender,omitempty"`
	Location string `json:"location,omitempty"`
}

func decodeChatMessage(raw []byte) (ChatMessage, error) {
	var probe struct {
		Message  *string `json:"message"`
		Sender   string  `json:"sender"`
		Location string  `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ChatMessage{}, err
	}
	if probe.Message == nil {
		return ChatMessage{}, errMissingMessage
	}
	return ChatMessage{Message: *probe.Message, Sender: probe.Sender, Location: probe.Location}, nil
}

// ReceiveKind discriminates the outcome of a receive.
type ReceiveKind int

const (
	// ReceivedMessage carries a frame in Raw.
	ReceivedMessage ReceiveKind = iota
	// ReceivedDisconnect means the peer closed the connection.
	ReceivedDisconnect
	// ReceivedError means the transport failed; Err holds the cause.
	ReceivedError
)

func (k ReceiveKind) String() string {
	switch k {
	case ReceivedMessage:
		return "message"
	case ReceivedDisconnect:
		return "disconnect"
	case ReceivedError:
		return "error"
	default:
		return "unknown"
	}
}

// Received is the result of one receive on a Peer.
type Received struct {
	Kind ReceiveKind
	Raw  []byte
	Err  error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
