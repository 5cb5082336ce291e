package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// ErrMalformedMessage is returned for frames that are not a JSON object.
// The connection stays usable.
var ErrMalformedMessage = errors.New("malformed message")

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers must not write from more than one goroutine at a time.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadEnvelope reads one message and peeks at its action. The raw bytes
// are kept for the action-specific decode.
func ReadEnvelope(conn *websocket.Conn) (*RequestEnvelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	env.Raw = data
	return &env, nil
}

// Decode unmarshals the full message behind an envelope.
func (e *RequestEnvelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Raw, v)
}
