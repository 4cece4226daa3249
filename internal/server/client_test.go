package server

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendQueuesWithoutBlocking(t *testing.T) {
	client := NewClient(nil, "127.0.0.1:1234", 512, 2, discardLogger())

	require.NoError(t, client.Send([]byte("one")))
	require.NoError(t, client.Send([]byte("two")))
	assert.ErrorIs(t, client.Send([]byte("three")), ErrSendBufferFull)

	assert.Equal(t, []byte("one"), <-client.send)
	assert.Equal(t, []byte("two"), <-client.send)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := NewClient(nil, "127.0.0.1:1234", 512, 4, discardLogger())

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send([]byte("late")), ErrConnClosed)

	_, ok := <-client.send
	assert.False(t, ok, "send channel is closed")
}

func TestClientIDsAreUnique(t *testing.T) {
	a := NewClient(nil, "", 512, 1, nil)
	b := NewClient(nil, "", 512, 1, nil)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestClassifyReadError(t *testing.T) {
	client := NewClient(nil, "", 512, 1, discardLogger())

	tests := []struct {
		name string
		err  error
		want ReceiveKind
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, ReceivedDisconnect},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, ReceivedDisconnect},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, ReceivedDisconnect},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, ReceivedError},
		{"eof", io.EOF, ReceivedDisconnect},
		{"wrapped eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), ReceivedDisconnect},
		{"closed socket", errors.New("read tcp: use of closed network connection"), ReceivedDisconnect},
		{"read limit", websocket.ErrReadLimit, ReceivedError},
		{"other", errors.New("connection reset by peer"), ReceivedError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rcv := client.classifyReadError(tt.err)
			assert.Equal(t, tt.want, rcv.Kind, rcv.Kind.String())
			assert.Equal(t, tt.err, rcv.Err)
		})
	}
}

func TestDecodeChatMessage(t *testing.T) {
	msg, err := decodeChatMessage([]byte(`{"message":"안녕","sender":"alice","location":"lobby","x":1}`))
	require.NoError(t, err)
	assert.Equal(t, ChatMessage{Message: "안녕", Sender: "alice", Location: "lobby"}, msg)

	msg, err = decodeChatMessage([]byte(`{"message":""}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Message)

	_, err = decodeChatMessage([]byte(`{"sender":"alice"}`))
	assert.ErrorIs(t, err, errMissingMessage)

	_, err = decodeChatMessage([]byte(`{"message":7}`))
	assert.Error(t, err)

	_, err = decodeChatMessage([]byte(`[1,2`))
	assert.Error(t, err)
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errors.New("write: broken pipe")))
	assert.True(t, isExpectedCloseError(errors.New("websocket: close sent")))
	assert.False(t, isExpectedCloseError(errors.New("timeout")))
}
